package postgres

import "testing"

func TestBuildDSNFromFields(t *testing.T) {
	got := buildDSN(ClientConfig{Host: "db", Port: 5433, User: "vol", Password: "pw", Database: "volcast", SSLMode: "disable", TimeZone: "UTC"})
	want := "host=db port=5433 user=vol password=pw dbname=volcast sslmode=disable TimeZone=UTC"
	if got != want {
		t.Fatalf("unexpected dsn %q", got)
	}
}

func TestBuildDSNPrefersExplicitDSN(t *testing.T) {
	got := buildDSN(ClientConfig{DSN: "postgres://u@h/db", Host: "ignored"})
	if got != "postgres://u@h/db" {
		t.Fatalf("unexpected dsn %q", got)
	}
}

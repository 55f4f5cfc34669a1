// Copyright (c) 2025 Daniel Kuo.
// Source-available; no permission granted to use, copy, modify, or distribute. See LICENSE.

package db

import "testing"

func TestCreateSchemaIsIdempotent(t *testing.T) {
	conn, err := Open(TypeSQLite, "file::memory:")
	if err != nil {
		t.Fatal(err)
	}
	defer conn.Close()

	for i := 0; i < 2; i++ {
		if err := CreateSchema(conn); err != nil {
			t.Fatalf("CreateSchema run %d: %v", i+1, err)
		}
	}

	var n int
	err = conn.QueryRow(`SELECT COUNT(*) FROM allocation_record`).Scan(&n)
	if err != nil || n != 0 {
		t.Fatalf("expected empty allocation_record, got %d %v", n, err)
	}
}

func TestOpenRejectsUnknownType(t *testing.T) {
	if _, err := Open("mysql", "whatever"); err == nil {
		t.Fatal("expected error for unknown database type")
	}
}

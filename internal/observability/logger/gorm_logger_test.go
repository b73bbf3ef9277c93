package logger

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestDescribeSQL(t *testing.T) {
	cases := []struct {
		sql       string
		op, table string
	}{
		{`SELECT * FROM "domains" WHERE name = $1`, "SELECT", "domains"},
		{`INSERT INTO "billing_events" ("id") VALUES ($1)`, "INSERT", "billing_events"},
		{`UPDATE "billing_recurrences" SET "recurrence_end_time"=$1`, "UPDATE", "billing_recurrences"},
		{`DELETE FROM grace_periods WHERE domain_id = 1`, "DELETE", "grace_periods"},
		{`PRAGMA foreign_keys = ON`, "UNKNOWN", ""},
	}
	for _, tc := range cases {
		op, table := describeSQL(tc.sql)
		assert.Equal(t, tc.op, op, tc.sql)
		assert.Equal(t, tc.table, table, tc.sql)
	}
}

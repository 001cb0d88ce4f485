package database

import (
	"context"
	"database/sql/driver"
	"errors"
	"fmt"
	"testing"

	"github.com/lib/pq"
	"github.com/mattn/go-sqlite3"
	"github.com/stretchr/testify/require"
)

func TestIsTransient(t *testing.T) {
	cases := []struct {
		err  error
		want bool
	}{
		{nil, false},
		{errors.New("duplicate key"), false},
		{fmt.Errorf("apply: %w", context.Canceled), true},
		{fmt.Errorf("apply: %w", driver.ErrBadConn), true},
		{fmt.Errorf("upsert: %w", sqlite3.Error{Code: sqlite3.ErrBusy}), true},
		{sqlite3.Error{Code: sqlite3.ErrConstraint}, false},
		{fmt.Errorf("upsert: %w", &pq.Error{Code: "08006"}), true},
		{&pq.Error{Code: "40P01"}, true},
		{&pq.Error{Code: "23505"}, false},
	}
	for _, c := range cases {
		require.Equal(t, c.want, IsTransient(c.err), "%v", c.err)
	}
}

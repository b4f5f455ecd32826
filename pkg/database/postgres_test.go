package database

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/noah-isme/sma-attendance-coordinator/pkg/config"
)

func TestDSN(t *testing.T) {
	dsn := DSN(config.DatabaseConfig{Host: "db", Port: 5432, User: "app", Password: "secret", Name: "school_attendance", SSLMode: "disable"})
	assert.Equal(t, "postgres://app:secret@db:5432/school_attendance?application_name=attendance-coordinator&sslmode=disable", dsn)
}

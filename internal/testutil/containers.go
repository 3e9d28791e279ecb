/*
Copyright © 2026 Acronis International GmbH.

Released under MIT license.
*/

package testutil

import (
	"context"
	"testing"
	"time"

	"github.com/docker/go-connections/nat"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/modules/mariadb"
	"github.com/testcontainers/testcontainers-go/modules/postgres"

	"github.com/acronis/go-sdbmigrate"
)

// Container images used by integration tests.
const (
	PostgresImage = "postgres:16-alpine"
	MariaDBImage  = "mariadb:11"
)

const (
	containerUser     = "sdbmigrate"
	containerPassword = "sdbmigrate-password"
	containerStartup  = 2 * time.Minute
)

// SkipIfShort skips integration tests in short mode.
func SkipIfShort(t *testing.T) {
	t.Helper()
	if testing.Short() {
		t.Skip("skipping integration test in short mode")
	}
}

// RunPostgres starts a PostgreSQL container and returns the config of its database.
// The test is skipped when containers cannot be started.
func RunPostgres(t *testing.T, dbName string) sdbmigrate.DatabaseConfig {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), containerStartup)
	defer cancel()

	c, err := postgres.Run(ctx, PostgresImage,
		postgres.WithDatabase(dbName),
		postgres.WithUsername(containerUser),
		postgres.WithPassword(containerPassword),
		postgres.BasicWaitStrategies(),
	)
	if err != nil {
		t.Skipf("skipping, cannot start postgres container: %v", err)
	}
	t.Cleanup(func() { _ = testcontainers.TerminateContainer(c) })

	return sdbmigrate.DatabaseConfig{
		Type:     sdbmigrate.DialectPostgres,
		Host:     containerHost(ctx, t, c),
		Port:     containerPort(ctx, t, c, "5432/tcp"),
		Name:     dbName,
		User:     containerUser,
		Password: containerPassword,
		SSLMode:  sdbmigrate.PostgresSSLModeDisable,
	}
}

// RunMariaDB starts a MariaDB container and returns the config of its database.
// The test is skipped when containers cannot be started.
func RunMariaDB(t *testing.T, dbName string) sdbmigrate.DatabaseConfig {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), containerStartup)
	defer cancel()

	c, err := mariadb.Run(ctx, MariaDBImage,
		mariadb.WithDatabase(dbName),
		mariadb.WithUsername(containerUser),
		mariadb.WithPassword(containerPassword),
	)
	if err != nil {
		t.Skipf("skipping, cannot start mariadb container: %v", err)
	}
	t.Cleanup(func() { _ = testcontainers.TerminateContainer(c) })

	return sdbmigrate.DatabaseConfig{
		Type:     sdbmigrate.DialectMySQL,
		Host:     containerHost(ctx, t, c),
		Port:     containerPort(ctx, t, c, "3306/tcp"),
		Name:     dbName,
		User:     containerUser,
		Password: containerPassword,
	}
}

func containerHost(ctx context.Context, t *testing.T, c testcontainers.Container) string {
	t.Helper()
	host, err := c.Host(ctx)
	if err != nil {
		t.Fatalf("container host: %v", err)
	}
	return host
}

func containerPort(ctx context.Context, t *testing.T, c testcontainers.Container, port string) int {
	t.Helper()
	mapped, err := c.MappedPort(ctx, nat.Port(port))
	if err != nil {
		t.Fatalf("container port %s: %v", port, err)
	}
	return mapped.Int()
}

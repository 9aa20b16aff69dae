//go:build integration

// Package testutil starts throwaway PostgreSQL and Redis containers for the
// integration suites.
package testutil

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/docker/go-connections/nat"
	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/wait"
	"gorm.io/gorm"

	"seatreserve/internal/shared/config"
	"seatreserve/internal/shared/database"
)

const (
	testUser     = "seatreserve"
	testPassword = "seatreserve"
	testDB       = "seatreserve_test"
)

func startContainer(t *testing.T, req testcontainers.ContainerRequest) testcontainers.Container {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Minute)
	defer cancel()

	c, err := testcontainers.GenericContainer(ctx, testcontainers.GenericContainerRequest{
		ContainerRequest: req,
		Started:          true,
	})
	require.NoError(t, err, "failed to start %s", req.Image)

	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		_ = c.Terminate(ctx)
	})
	return c
}

func hostPort(t *testing.T, c testcontainers.Container, port nat.Port) (string, string) {
	t.Helper()
	ctx := context.Background()
	mapped, err := c.MappedPort(ctx, port)
	require.NoError(t, err)
	host, err := c.Host(ctx)
	require.NoError(t, err)
	return host, mapped.Port()
}

// StartPostgres returns a migrated GORM connection to a fresh database
func StartPostgres(t *testing.T) *gorm.DB {
	t.Helper()
	c := startContainer(t, testcontainers.ContainerRequest{
		Image:        "postgres:17",
		ExposedPorts: []string{"5432/tcp"},
		Env: map[string]string{
			"POSTGRES_USER":     testUser,
			"POSTGRES_PASSWORD": testPassword,
			"POSTGRES_DB":       testDB,
		},
		Tmpfs: map[string]string{"/var/lib/postgresql/data": "rw,size=256m"},
		Cmd:   []string{"postgres", "-c", "fsync=off", "-c", "synchronous_commit=off"},
		WaitingFor: wait.ForSQL("5432/tcp", "pgx", func(host string, port nat.Port) string {
			return fmt.Sprintf("postgres://%s:%s@%s:%s/%s?sslmode=disable", testUser, testPassword, host, port.Port(), testDB)
		}).WithStartupTimeout(60 * time.Second),
	})

	host, port := hostPort(t, c, "5432/tcp")
	db, err := database.OpenPostgreSQL(config.DatabaseConfig{
		Host:            host,
		Port:            port,
		Name:            testDB,
		User:            testUser,
		Password:        testPassword,
		SSLMode:         "disable",
		MaxOpenConns:    50,
		MaxIdleConns:    10,
		ConnMaxLifetime: time.Hour,
	}, false)
	require.NoError(t, err)
	require.NoError(t, database.Migrate(db))

	t.Cleanup(func() {
		if sqlDB, err := db.DB(); err == nil {
			_ = sqlDB.Close()
		}
	})
	return db
}

// StartRedis returns a client connected to a fresh Redis
func StartRedis(t *testing.T) *redis.Client {
	t.Helper()
	c := startContainer(t, testcontainers.ContainerRequest{
		Image:        "redis:7-alpine",
		ExposedPorts: []string{"6379/tcp"},
		WaitingFor:   wait.ForLog("Ready to accept connections").WithStartupTimeout(60 * time.Second),
	})

	host, port := hostPort(t, c, "6379/tcp")
	rdb, err := database.OpenRedis(config.RedisConfig{Host: host, Port: port})
	require.NoError(t, err)
	t.Cleanup(func() { _ = rdb.Close() })
	return rdb
}

package config_test

import (
	"context"
	"errors"
	"os"
	"testing"

	"github.com/okian/rumble/internal/config"
	"github.com/smartystreets/goconvey/convey"
)

func TestConfigLoader(t *testing.T) {
	convey.Convey("Given a config loader", t, func() {
		ctx := context.Background()
		clearConfigEnvVars()
		defer clearConfigEnvVars()

		convey.Convey("When loading config with defaults only", func() {
			cfg, err := config.Load(ctx)

			convey.Convey("Then it should load successfully with defaults", func() {
				convey.So(err, convey.ShouldBeNil)
				convey.So(cfg, convey.ShouldNotBeNil)
				convey.So(cfg.Addr, convey.ShouldEqual, ":9080")
				convey.So(cfg.StoreDriver, convey.ShouldEqual, config.DriverMemory)
				convey.So(cfg.DedupeSize, convey.ShouldEqual, 100_000)
				convey.So(cfg.MaxLeaderboardLimit, convey.ShouldEqual, 100)
			})
		})

		convey.Convey("When loading config with environment variables", func() {
			_ = os.Setenv("RUMBLE_ADDR", ":8080")
			_ = os.Setenv("RUMBLE_PARTY_ID", "living-room")
			_ = os.Setenv("RUMBLE_NOTIFY_QUEUE_SIZE", "128")
			_ = os.Setenv("RUMBLE_NOTIFY_WORKERS", "2")
			_ = os.Setenv("RUMBLE_JOBBER_THRESHOLD_MS", "30000")
			_ = os.Setenv("RUMBLE_REDIS_ADDR", "localhost:6379")

			cfg, err := config.Load(ctx)

			convey.Convey("Then env values win over defaults", func() {
				convey.So(err, convey.ShouldBeNil)
				convey.So(cfg.Addr, convey.ShouldEqual, ":8080")
				convey.So(cfg.PartyID, convey.ShouldEqual, "living-room")
				convey.So(cfg.NotifyQueueSize, convey.ShouldEqual, 128)
				convey.So(cfg.NotifyWorkers, convey.ShouldEqual, 2)
				convey.So(cfg.JobberThresholdMS, convey.ShouldEqual, 30000)
				convey.So(cfg.RedisAddr, convey.ShouldEqual, "localhost:6379")
			})
		})

		convey.Convey("When loading config from a YAML file and env", func() {
			tmpFile := createTempConfigFile(`
addr: ":7070"
party_id: watch-party
store_driver: sqlite
sqlite_path: /tmp/rumble-test.db
dedupe_size: 500
bonuses:
  survivor: 10
  simple_pick: 0
`)
			defer func() { _ = os.Remove(tmpFile) }()
			_ = os.Setenv("RUMBLE_CONFIG", tmpFile)
			_ = os.Setenv("RUMBLE_ADDR", ":8181")

			cfg, err := config.Load(ctx)

			convey.Convey("Then env overrides the file and the file overrides defaults", func() {
				convey.So(err, convey.ShouldBeNil)
				convey.So(cfg.Addr, convey.ShouldEqual, ":8181")
				convey.So(cfg.PartyID, convey.ShouldEqual, "watch-party")
				convey.So(cfg.StoreDriver, convey.ShouldEqual, config.DriverSQLite)
				convey.So(cfg.SQLitePath, convey.ShouldEqual, "/tmp/rumble-test.db")
				convey.So(cfg.DedupeSize, convey.ShouldEqual, 500)
				convey.So(cfg.Bonuses["survivor"], convey.ShouldEqual, 10)
				convey.So(cfg.Bonuses, convey.ShouldContainKey, "simple_pick")
				convey.So(cfg.NotifyWorkers, convey.ShouldEqual, 1)
			})
		})

		convey.Convey("When loading config with invalid YAML file", func() {
			tmpFile := createTempConfigFile(`invalid: yaml: content: [`)
			defer func() { _ = os.Remove(tmpFile) }()
			_ = os.Setenv("RUMBLE_CONFIG", tmpFile)

			cfg, err := config.Load(ctx)

			convey.Convey("Then it should return a load error", func() {
				convey.So(errors.Is(err, config.ErrLoadConfig), convey.ShouldBeTrue)
				convey.So(cfg, convey.ShouldBeNil)
			})
		})

		convey.Convey("When loading config with non-existent file", func() {
			_ = os.Setenv("RUMBLE_CONFIG", "/non/existent/file.yaml")

			cfg, err := config.Load(ctx)

			convey.Convey("Then it should return a load error", func() {
				convey.So(errors.Is(err, config.ErrLoadConfig), convey.ShouldBeTrue)
				convey.So(cfg, convey.ShouldBeNil)
			})
		})

		convey.Convey("When loading config with empty addr", func() {
			_ = os.Setenv("RUMBLE_ADDR", "")

			cfg, err := config.Load(ctx)

			convey.Convey("Then it should return a validation error", func() {
				convey.So(errors.Is(err, config.ErrInvalidConfig), convey.ShouldBeTrue)
				convey.So(err.Error(), convey.ShouldContainSubstring, "addr must not be empty")
				convey.So(cfg, convey.ShouldBeNil)
			})
		})

		convey.Convey("When loading config with invalid numeric environment variables", func() {
			_ = os.Setenv("RUMBLE_NOTIFY_WORKERS", "not_a_number")

			cfg, err := config.Load(ctx)

			convey.Convey("Then it should return an error", func() {
				convey.So(err, convey.ShouldNotBeNil)
				convey.So(cfg, convey.ShouldBeNil)
			})
		})

		convey.Convey("When postgres is selected without a dsn", func() {
			_ = os.Setenv("RUMBLE_STORE_DRIVER", "postgres")

			cfg, err := config.Load(ctx)

			convey.Convey("Then validation rejects it", func() {
				convey.So(errors.Is(err, config.ErrInvalidConfig), convey.ShouldBeTrue)
				convey.So(cfg, convey.ShouldBeNil)
			})
		})
	})
}

// Helper functions.

func clearConfigEnvVars() {
	envVars := []string{
		"RUMBLE_CONFIG",
		"RUMBLE_ADDR",
		"RUMBLE_PARTY_ID",
		"RUMBLE_STORE_DRIVER",
		"RUMBLE_NOTIFY_QUEUE_SIZE",
		"RUMBLE_NOTIFY_WORKERS",
		"RUMBLE_JOBBER_THRESHOLD_MS",
		"RUMBLE_REDIS_ADDR",
	}
	for _, envVar := range envVars {
		_ = os.Unsetenv(envVar)
	}
}

func createTempConfigFile(content string) string {
	tmpFile, err := os.CreateTemp("", "rumble-config-*.yaml")
	if err != nil {
		panic(err)
	}

	if _, err := tmpFile.WriteString(content); err != nil {
		panic(err)
	}

	if err := tmpFile.Close(); err != nil {
		panic(err)
	}

	return tmpFile.Name()
}

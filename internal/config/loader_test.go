package config_test

import (
	"context"
	"errors"
	"os"
	"testing"
	"time"

	"github.com/okian/claimgate/internal/config"
	"github.com/smartystreets/goconvey/convey"
)

func TestConfigLoader(t *testing.T) {
	convey.Convey("Given a config loader", t, func() {
		ctx := context.Background()

		convey.Convey("When loading config with defaults only", func() {
			clearConfigEnvVars()

			cfg, err := config.Load(ctx)

			convey.Convey("Then it should load successfully with defaults", func() {
				convey.So(err, convey.ShouldBeNil)
				convey.So(cfg, convey.ShouldNotBeNil)
				convey.So(cfg.Addr, convey.ShouldEqual, ":3000")
				convey.So(cfg.ClaimPeriodCap, convey.ShouldEqual, "1")
				convey.So(cfg.BusyPolicy, convey.ShouldEqual, "wait")
				convey.So(cfg.PublisherWorkers, convey.ShouldEqual, 2)
			})
		})

		convey.Convey("When loading config with environment variables", func() {
			_ = os.Setenv("CLAIMGATE_ADDR", ":8080")
			_ = os.Setenv("CLAIMGATE_CLAIM_PERIOD_CAP", "2.5")
			_ = os.Setenv("CLAIMGATE_CLAIM_COOLDOWN", "90s")
			_ = os.Setenv("CLAIMGATE_PUBLISHER_WORKERS", "4")
			_ = os.Setenv("CLAIMGATE_CHAIN_RPS", "0.5")
			defer clearConfigEnvVars()

			cfg, err := config.Load(ctx)

			convey.Convey("Then it should override defaults with env vars", func() {
				convey.So(err, convey.ShouldBeNil)
				convey.So(cfg, convey.ShouldNotBeNil)
				convey.So(cfg.Addr, convey.ShouldEqual, ":8080")
				convey.So(cfg.ClaimPeriodCap, convey.ShouldEqual, "2.5")
				convey.So(cfg.ClaimCooldown, convey.ShouldEqual, 90*time.Second)
				convey.So(cfg.PublisherWorkers, convey.ShouldEqual, 4)
				convey.So(cfg.ChainRPS, convey.ShouldEqual, 0.5)
				convey.So(cfg.ClaimOriginWindow, convey.ShouldEqual, time.Minute)
			})
		})

		convey.Convey("When loading config from a YAML file", func() {
			yamlContent := `
addr: ":9090"
data_dir: "/var/lib/claimgate"
claim_conversion_rate: "0.001"
withdraw_cooldown: "30m"
period_timezone: "Europe/Berlin"
busy_policy: "reject"
`
			tmpFile := createTempConfigFile(yamlContent)
			defer func() { _ = os.Remove(tmpFile) }()

			_ = os.Setenv("CLAIMGATE_CONFIG", tmpFile)
			defer clearConfigEnvVars()

			cfg, err := config.Load(ctx)

			convey.Convey("Then it should load from YAML file", func() {
				convey.So(err, convey.ShouldBeNil)
				convey.So(cfg, convey.ShouldNotBeNil)
				convey.So(cfg.Addr, convey.ShouldEqual, ":9090")
				convey.So(cfg.DataDir, convey.ShouldEqual, "/var/lib/claimgate")
				convey.So(cfg.ClaimConversionRate, convey.ShouldEqual, "0.001")
				convey.So(cfg.WithdrawCooldown, convey.ShouldEqual, 30*time.Minute)
				convey.So(cfg.PeriodTimezone, convey.ShouldEqual, "Europe/Berlin")
				convey.So(cfg.BusyPolicy, convey.ShouldEqual, "reject")
			})
		})

		convey.Convey("When loading config with both file and environment variables", func() {
			yamlContent := `
addr: ":9090"
claim_cooldown: "2h"
`
			tmpFile := createTempConfigFile(yamlContent)
			defer func() { _ = os.Remove(tmpFile) }()

			_ = os.Setenv("CLAIMGATE_CONFIG", tmpFile)
			_ = os.Setenv("CLAIMGATE_ADDR", ":8080") // This should override the file
			defer clearConfigEnvVars()

			cfg, err := config.Load(ctx)

			convey.Convey("Then environment variables should override file values", func() {
				convey.So(err, convey.ShouldBeNil)
				convey.So(cfg.Addr, convey.ShouldEqual, ":8080")              // Overridden by env
				convey.So(cfg.ClaimCooldown, convey.ShouldEqual, 2*time.Hour) // From file
			})
		})

		convey.Convey("When loading config with invalid YAML file", func() {
			tmpFile := createTempConfigFile(`invalid: yaml: content: [`)
			defer func() { _ = os.Remove(tmpFile) }()

			_ = os.Setenv("CLAIMGATE_CONFIG", tmpFile)
			defer clearConfigEnvVars()

			cfg, err := config.Load(ctx)

			convey.Convey("Then it should return a load error", func() {
				convey.So(errors.Is(err, config.ErrLoadConfig), convey.ShouldBeTrue)
				convey.So(cfg, convey.ShouldBeNil)
			})
		})

		convey.Convey("When loading config with non-existent file", func() {
			_ = os.Setenv("CLAIMGATE_CONFIG", "/non/existent/file.yaml")
			defer clearConfigEnvVars()

			cfg, err := config.Load(ctx)

			convey.Convey("Then it should return an error", func() {
				convey.So(err, convey.ShouldNotBeNil)
				convey.So(cfg, convey.ShouldBeNil)
			})
		})

		convey.Convey("When the loaded values fail validation", func() {
			_ = os.Setenv("CLAIMGATE_BUSY_POLICY", "spin")
			defer clearConfigEnvVars()

			cfg, err := config.Load(ctx)

			convey.Convey("Then it should return an invalid config error", func() {
				convey.So(errors.Is(err, config.ErrInvalidConfig), convey.ShouldBeTrue)
				convey.So(cfg, convey.ShouldBeNil)
			})
		})
	})
}

func clearConfigEnvVars() {
	envVars := []string{
		"CLAIMGATE_CONFIG",
		"CLAIMGATE_ADDR",
		"CLAIMGATE_CLAIM_PERIOD_CAP",
		"CLAIMGATE_CLAIM_COOLDOWN",
		"CLAIMGATE_PUBLISHER_WORKERS",
		"CLAIMGATE_CHAIN_RPS",
		"CLAIMGATE_BUSY_POLICY",
	}
	for _, envVar := range envVars {
		_ = os.Unsetenv(envVar)
	}
}

func createTempConfigFile(content string) string {
	tmpFile, err := os.CreateTemp("", "claimgate-config-*.yaml")
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

package config

import (
	"os"
	"path/filepath"
	"time"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
)

var _ = Describe("Config", func() {
	var (
		tempDir    string
		configFile string
	)

	BeforeEach(func() {
		var err error
		tempDir, err = os.MkdirTemp("", "config-test")
		Expect(err).NotTo(HaveOccurred())
		configFile = filepath.Join(tempDir, "config.yaml")
	})

	AfterEach(func() {
		os.RemoveAll(tempDir)
	})

	Describe("Load", func() {
		Context("when config file exists with valid content", func() {
			BeforeEach(func() {
				validConfig := `
server:
  http_port: "8080"
  metrics_port: "9090"

payer:
  endpoint: "https://payer.example.com"
  model: "n/a"
  timeout: "30s"
  retry_count: 3
  provider: "availity"
  max_bundle_size_bytes: 5242880
  circuit_breaker_max_requests: 5

tenancy:
  default_tenant: "acme-health"
  namespace: "prod"

publisher:
  dry_run: false
  max_concurrent: 5
  cooldown_period: "5m"

subscribers:
  - name: "urgent-appeals"
    conditions:
      requestType:
        - "appeal"
      payer:
        - "availity"

logging:
  level: "info"
  format: "json"

idempotency:
  ttl: "24h"
`
				err := os.WriteFile(configFile, []byte(validConfig), 0644)
				Expect(err).NotTo(HaveOccurred())
			})

			It("should load configuration successfully", func() {
				cfg, err := Load(configFile)
				Expect(err).NotTo(HaveOccurred())
				Expect(cfg).NotTo(BeNil())

				Expect(cfg.Server.HTTPPort).To(Equal("8080"))
				Expect(cfg.Server.MetricsPort).To(Equal("9090"))

				Expect(cfg.Payer.Endpoint).To(Equal("https://payer.example.com"))
				Expect(cfg.Payer.Timeout).To(Equal(30 * time.Second))
				Expect(cfg.Payer.RetryCount).To(Equal(3))
				Expect(cfg.Payer.Provider).To(Equal("availity"))
				Expect(cfg.Payer.MaxBundleSizeBytes).To(Equal(5242880))
				Expect(cfg.Payer.CircuitBreakerMaxReqs).To(Equal(uint32(5)))

				Expect(cfg.Tenancy.DefaultTenant).To(Equal("acme-health"))
				Expect(cfg.Tenancy.Namespace).To(Equal("prod"))

				Expect(cfg.Publisher.DryRun).To(BeFalse())
				Expect(cfg.Publisher.MaxConcurrent).To(Equal(5))
				Expect(cfg.Publisher.CooldownPeriod).To(Equal(5 * time.Minute))

				Expect(cfg.Subscribers).To(HaveLen(1))
				Expect(cfg.Subscribers[0].Name).To(Equal("urgent-appeals"))
				Expect(cfg.Subscribers[0].Conditions["requestType"]).To(ContainElements("appeal"))
				Expect(cfg.Subscribers[0].Conditions["payer"]).To(ContainElements("availity"))

				Expect(cfg.Logging.Level).To(Equal("info"))
				Expect(cfg.Logging.Format).To(Equal("json"))

				Expect(cfg.Idempotency.TTL).To(Equal(24 * time.Hour))
			})
		})

		Context("when config file has minimal content", func() {
			BeforeEach(func() {
				minimalConfig := `
server:
  http_port: "3000"

payer:
  endpoint: "https://payer.example.com"
  provider: "availity"
`
				err := os.WriteFile(configFile, []byte(minimalConfig), 0644)
				Expect(err).NotTo(HaveOccurred())
			})

			It("should load with defaults for missing values", func() {
				cfg, err := Load(configFile)
				Expect(err).NotTo(HaveOccurred())

				Expect(cfg.Server.HTTPPort).To(Equal("3000"))
				Expect(cfg.Payer.Endpoint).To(Equal("https://payer.example.com"))
				Expect(cfg.Payer.Provider).To(Equal("availity"))

				Expect(cfg.Tenancy.Namespace).To(Equal("default"))
				Expect(cfg.Publisher.MaxConcurrent).To(Equal(5))
			})
		})

		Context("when config file does not exist", func() {
			It("should return an error", func() {
				_, err := Load("/nonexistent/config.yaml")
				Expect(err).To(HaveOccurred())
				Expect(err.Error()).To(ContainSubstring("failed to read config file"))
			})
		})

		Context("when config file has invalid YAML", func() {
			BeforeEach(func() {
				invalidConfig := `
server:
  http_port: "8080"
  invalid_yaml: [
payer:
  endpoint: "test"
`
				err := os.WriteFile(configFile, []byte(invalidConfig), 0644)
				Expect(err).NotTo(HaveOccurred())
			})

			It("should return an error", func() {
				_, err := Load(configFile)
				Expect(err).To(HaveOccurred())
				Expect(err.Error()).To(ContainSubstring("failed to parse config file"))
			})
		})

		Context("when config has invalid duration formats", func() {
			BeforeEach(func() {
				invalidDurationConfig := `
server:
  http_port: "8080"

payer:
  endpoint: "https://payer.example.com"
  timeout: "invalid-duration"
  provider: "availity"

publisher:
  cooldown_period: "not-a-duration"
`
				err := os.WriteFile(configFile, []byte(invalidDurationConfig), 0644)
				Expect(err).NotTo(HaveOccurred())
			})

			It("should return an error", func() {
				_, err := Load(configFile)
				Expect(err).To(HaveOccurred())
				Expect(err.Error()).To(ContainSubstring("failed to parse config file"))
			})
		})
	})

	Describe("validate", func() {
		var cfg *Config

		BeforeEach(func() {
			cfg = &Config{
				Server: ServerConfig{
					HTTPPort:    "8080",
					MetricsPort: "9090",
				},
				Payer: PayerConfig{
					Endpoint:   "https://payer.example.com",
					Timeout:    30 * time.Second,
					RetryCount: 3,
					Provider:   "availity",
				},
				Tenancy: TenancyConfig{
					DefaultTenant: "acme-health",
					Namespace:     "prod",
				},
				Publisher: PublisherConfig{
					DryRun:         false,
					MaxConcurrent:  5,
					CooldownPeriod: 5 * time.Minute,
				},
				Logging: LoggingConfig{
					Level:  "info",
					Format: "json",
				},
			}
		})

		Context("when config is valid", func() {
			It("should pass validation", func() {
				err := validate(cfg)
				Expect(err).NotTo(HaveOccurred())
			})
		})

		Context("when payer provider is invalid", func() {
			BeforeEach(func() {
				cfg.Payer.Provider = "invalid"
			})

			It("should return validation error", func() {
				err := validate(cfg)
				Expect(err).To(HaveOccurred())
				Expect(err.Error()).To(ContainSubstring("unsupported payer provider"))
			})
		})

		Context("when payer endpoint is missing", func() {
			BeforeEach(func() {
				cfg.Payer.Endpoint = ""
			})

			It("should set default endpoint", func() {
				err := validate(cfg)
				Expect(err).NotTo(HaveOccurred())
				Expect(cfg.Payer.Endpoint).To(Equal("http://localhost:8443"))
			})
		})

		Context("when tenancy namespace is empty", func() {
			BeforeEach(func() {
				cfg.Tenancy.Namespace = ""
			})

			It("should return validation error", func() {
				err := validate(cfg)
				Expect(err).To(HaveOccurred())
				Expect(err.Error()).To(ContainSubstring("tenancy namespace is required"))
			})
		})

		Context("when max concurrent publishers is invalid", func() {
			BeforeEach(func() {
				cfg.Publisher.MaxConcurrent = 0
			})

			It("should return validation error", func() {
				err := validate(cfg)
				Expect(err).To(HaveOccurred())
				Expect(err.Error()).To(ContainSubstring("max concurrent publishers must be greater than 0"))
			})
		})

		Context("when max concurrent publishers is negative", func() {
			BeforeEach(func() {
				cfg.Publisher.MaxConcurrent = -1
			})

			It("should return validation error", func() {
				err := validate(cfg)
				Expect(err).To(HaveOccurred())
				Expect(err.Error()).To(ContainSubstring("max concurrent publishers must be greater than 0"))
			})
		})

		Context("when payer retry count is negative", func() {
			BeforeEach(func() {
				cfg.Payer.RetryCount = -1
			})

			It("should pass validation", func() {
				err := validate(cfg)
				Expect(err).NotTo(HaveOccurred())
			})
		})

		Context("when cooldown period is negative", func() {
			BeforeEach(func() {
				cfg.Publisher.CooldownPeriod = -1 * time.Minute
			})

			It("should pass validation", func() {
				err := validate(cfg)
				Expect(err).NotTo(HaveOccurred())
			})
		})
	})

	Describe("loadFromEnv", func() {
		var cfg *Config

		BeforeEach(func() {
			cfg = &Config{}
			os.Clearenv()
		})

		Context("when environment variables are set", func() {
			BeforeEach(func() {
				os.Setenv("PAYER_ENDPOINT", "https://test-payer.example.com")
				os.Setenv("PAYER_PROVIDER", "changehealthcare")
				os.Setenv("HTTP_PORT", "3000")
				os.Setenv("METRICS_PORT", "9999")
				os.Setenv("LOG_LEVEL", "debug")
				os.Setenv("PUBLISHER_DRY_RUN", "true")
			})

			AfterEach(func() {
				os.Clearenv()
			})

			It("should load values from environment", func() {
				err := loadFromEnv(cfg)
				Expect(err).NotTo(HaveOccurred())

				Expect(cfg.Payer.Endpoint).To(Equal("https://test-payer.example.com"))
				Expect(cfg.Payer.Provider).To(Equal("changehealthcare"))
				Expect(cfg.Server.HTTPPort).To(Equal("3000"))
				Expect(cfg.Server.MetricsPort).To(Equal("9999"))
				Expect(cfg.Logging.Level).To(Equal("debug"))
				Expect(cfg.Publisher.DryRun).To(BeTrue())
			})
		})

		Context("when no environment variables are set", func() {
			It("should not modify config", func() {
				originalConfig := *cfg
				err := loadFromEnv(cfg)
				Expect(err).NotTo(HaveOccurred())
				Expect(*cfg).To(Equal(originalConfig))
			})
		})
	})
})

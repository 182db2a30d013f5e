package validation

import (
	"strings"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
)

var _ = Describe("Validation", func() {
	Describe("ValidateProviderReference", func() {
		Context("with valid provider reference", func() {
			It("should pass validation", func() {
				ref := ProviderReference{
					Tenant: "acme-health",
					NPI:    "1234567893",
					Name:   "webapp-clinic",
				}

				err := ValidateProviderReference(ref)
				Expect(err).NotTo(HaveOccurred())
			})
		})

		Context("when tenant is invalid", func() {
			Context("when tenant is empty", func() {
				It("should return validation error", func() {
					ref := ProviderReference{Tenant: "", NPI: "1234567893", Name: "webapp"}

					err := ValidateProviderReference(ref)
					Expect(err).To(HaveOccurred())
					Expect(err.Error()).To(ContainSubstring("tenant is required"))
				})
			})

			Context("when tenant is too long", func() {
				It("should return validation error", func() {
					ref := ProviderReference{
						Tenant: "a-very-long-tenant-slug-that-exceeds-the-sixty-three-character-limit-by-far",
						NPI:    "1234567893",
						Name:   "webapp",
					}

					err := ValidateProviderReference(ref)
					Expect(err).To(HaveOccurred())
					Expect(err.Error()).To(ContainSubstring("tenant must be 63 characters or less"))
				})
			})

			Context("when tenant has invalid characters", func() {
				It("should return validation error for uppercase", func() {
					ref := ProviderReference{Tenant: "AcmeHealth", NPI: "1234567893", Name: "webapp"}

					err := ValidateProviderReference(ref)
					Expect(err).To(HaveOccurred())
					Expect(err.Error()).To(ContainSubstring("tenant must be a valid lowercase tenant slug"))
				})

				It("should return validation error for special characters", func() {
					ref := ProviderReference{Tenant: "acme_health", NPI: "1234567893", Name: "webapp"}

					err := ValidateProviderReference(ref)
					Expect(err).To(HaveOccurred())
					Expect(err.Error()).To(ContainSubstring("tenant must be a valid lowercase tenant slug"))
				})
			})
		})

		Context("when NPI is invalid", func() {
			Context("when NPI is empty", func() {
				It("should return validation error", func() {
					ref := ProviderReference{Tenant: "acme-health", NPI: "", Name: "webapp"}

					err := ValidateProviderReference(ref)
					Expect(err).To(HaveOccurred())
					Expect(err.Error()).To(ContainSubstring("NPI is required"))
				})
			})

			Context("when NPI is not 10 digits", func() {
				It("should return validation error for too short", func() {
					ref := ProviderReference{Tenant: "acme-health", NPI: "12345", Name: "webapp"}

					err := ValidateProviderReference(ref)
					Expect(err).To(HaveOccurred())
					Expect(err.Error()).To(ContainSubstring("NPI must be exactly 10 digits"))
				})

				It("should return validation error for non-numeric", func() {
					ref := ProviderReference{Tenant: "acme-health", NPI: "12345abcde", Name: "webapp"}

					err := ValidateProviderReference(ref)
					Expect(err).To(HaveOccurred())
					Expect(err.Error()).To(ContainSubstring("NPI must be exactly 10 digits"))
				})
			})
		})

		Context("when name is invalid", func() {
			Context("when name is empty", func() {
				It("should return validation error", func() {
					ref := ProviderReference{Tenant: "acme-health", NPI: "1234567893", Name: ""}

					err := ValidateProviderReference(ref)
					Expect(err).To(HaveOccurred())
					Expect(err.Error()).To(ContainSubstring("name is required"))
				})
			})

			Context("when name is too long", func() {
				It("should return validation error", func() {
					longName := strings.Repeat("a", 260)
					ref := ProviderReference{Tenant: "acme-health", NPI: "1234567893", Name: longName}

					err := ValidateProviderReference(ref)
					Expect(err).To(HaveOccurred())
					Expect(err.Error()).To(ContainSubstring("name must be 253 characters or less"))
				})
			})

			Context("when name has invalid characters", func() {
				It("should return validation error for uppercase", func() {
					ref := ProviderReference{Tenant: "acme-health", NPI: "1234567893", Name: "WebApp"}

					err := ValidateProviderReference(ref)
					Expect(err).To(HaveOccurred())
					Expect(err.Error()).To(ContainSubstring("name must be a valid provider identifier"))
				})
			})
		})

		Context("with multiple validation errors", func() {
			It("should return combined validation errors", func() {
				ref := ProviderReference{Tenant: "", NPI: "", Name: ""}

				err := ValidateProviderReference(ref)
				Expect(err).To(HaveOccurred())
				Expect(err.Error()).To(ContainSubstring("tenant is required"))
				Expect(err.Error()).To(ContainSubstring("NPI is required"))
				Expect(err.Error()).To(ContainSubstring("name is required"))
			})
		})
	})

	Describe("ValidateStringInput", func() {
		Context("with valid input", func() {
			It("should pass validation", func() {
				err := ValidateStringInput("field", "validinput123", 100)
				Expect(err).NotTo(HaveOccurred())
			})
		})

		Context("when input is too long", func() {
			It("should return validation error", func() {
				err := ValidateStringInput("field", "toolong", 5)
				Expect(err).To(HaveOccurred())
				Expect(err.Error()).To(ContainSubstring("must be 5 characters or less"))
			})
		})

		Context("when input contains SQL injection patterns", func() {
			It("should detect UNION attacks", func() {
				err := ValidateStringInput("field", "'; UNION SELECT * FROM users --", 100)
				Expect(err).To(HaveOccurred())
				Expect(err.Error()).To(ContainSubstring("contains potentially unsafe characters"))
			})

			It("should detect script injection", func() {
				err := ValidateStringInput("field", "<script>alert('xss')</script>", 100)
				Expect(err).To(HaveOccurred())
				Expect(err.Error()).To(ContainSubstring("contains potentially unsafe characters"))
			})

			It("should detect SQL comments", func() {
				err := ValidateStringInput("field", "input-- comment", 100)
				Expect(err).To(HaveOccurred())
				Expect(err.Error()).To(ContainSubstring("contains potentially unsafe characters"))
			})
		})

		Context("when input contains control characters", func() {
			It("should detect control characters", func() {
				controlChar := string(rune(0x01))
				err := ValidateStringInput("field", "input"+controlChar, 100)
				Expect(err).To(HaveOccurred())
				Expect(err.Error()).To(ContainSubstring("contains invalid control characters"))
			})

			It("should allow valid whitespace", func() {
				err := ValidateStringInput("field", "input\twith\nlines\r", 100)
				Expect(err).NotTo(HaveOccurred())
			})
		})
	})

	Describe("ValidateRequestType", func() {
		Context("with valid request types", func() {
			validTypes := []string{"initial", "appeal", "inquiry", "cancellation", "update"}

			for _, rt := range validTypes {
				rt := rt
				It("should accept "+rt, func() {
					err := ValidateRequestType(rt)
					Expect(err).NotTo(HaveOccurred())
				})
			}
		})

		Context("with invalid request types", func() {
			It("should reject unknown request types", func() {
				err := ValidateRequestType("delete_everything")
				Expect(err).To(HaveOccurred())
				Expect(err.Error()).To(ContainSubstring("is not a recognized request type"))
			})

			It("should reject request types with SQL injection", func() {
				err := ValidateRequestType("initial'; DROP TABLE request_tracker; --")
				Expect(err).To(HaveOccurred())
				Expect(err.Error()).To(ContainSubstring("contains potentially unsafe characters"))
			})
		})
	})

	Describe("ValidateTimeRange", func() {
		Context("with valid time ranges", func() {
			validRanges := []string{"1h", "24h", "7d", "30d", "60m"}

			for _, timeRange := range validRanges {
				timeRange := timeRange
				It("should accept "+timeRange, func() {
					err := ValidateTimeRange(timeRange)
					Expect(err).NotTo(HaveOccurred())
				})
			}
		})

		Context("with invalid time ranges", func() {
			It("should reject invalid format", func() {
				err := ValidateTimeRange("invalid")
				Expect(err).To(HaveOccurred())
				Expect(err.Error()).To(ContainSubstring("must be in format like"))
			})

			It("should reject SQL injection attempts", func() {
				err := ValidateTimeRange("1h';DROP")
				Expect(err).To(HaveOccurred())
				Expect(err.Error()).To(ContainSubstring("contains potentially unsafe characters"))
			})
		})
	})

	Describe("ValidateWindowMinutes", func() {
		Context("with valid window minutes", func() {
			It("should accept valid ranges", func() {
				validWindows := []int{1, 60, 120, 1440, 10080}

				for _, window := range validWindows {
					err := ValidateWindowMinutes(window)
					Expect(err).NotTo(HaveOccurred())
				}
			})
		})

		Context("with invalid window minutes", func() {
			It("should reject zero", func() {
				err := ValidateWindowMinutes(0)
				Expect(err).To(HaveOccurred())
				Expect(err.Error()).To(ContainSubstring("must be greater than 0"))
			})

			It("should reject negative values", func() {
				err := ValidateWindowMinutes(-1)
				Expect(err).To(HaveOccurred())
				Expect(err.Error()).To(ContainSubstring("must be greater than 0"))
			})

			It("should reject too large values", func() {
				err := ValidateWindowMinutes(20000)
				Expect(err).To(HaveOccurred())
				Expect(err.Error()).To(ContainSubstring("must be 7 days (10080 minutes) or less"))
			})
		})
	})

	Describe("ValidateLimit", func() {
		Context("with valid limits", func() {
			It("should accept valid ranges", func() {
				validLimits := []int{1, 50, 100, 1000, 10000}

				for _, limit := range validLimits {
					err := ValidateLimit(limit)
					Expect(err).NotTo(HaveOccurred())
				}
			})
		})

		Context("with invalid limits", func() {
			It("should reject zero", func() {
				err := ValidateLimit(0)
				Expect(err).To(HaveOccurred())
				Expect(err.Error()).To(ContainSubstring("must be greater than 0"))
			})

			It("should reject negative values", func() {
				err := ValidateLimit(-1)
				Expect(err).To(HaveOccurred())
				Expect(err.Error()).To(ContainSubstring("must be greater than 0"))
			})

			It("should reject too large values", func() {
				err := ValidateLimit(50000)
				Expect(err).To(HaveOccurred())
				Expect(err.Error()).To(ContainSubstring("must be 10000 or less"))
			})
		})
	})

	Describe("SanitizeForLogging", func() {
		Context("with clean input", func() {
			It("should return input unchanged", func() {
				input := "clean input text"
				result := SanitizeForLogging(input)
				Expect(result).To(Equal(input))
			})
		})

		Context("with control characters", func() {
			It("should replace control characters", func() {
				controlChar := string(rune(0x01))
				input := "text" + controlChar + "more"
				result := SanitizeForLogging(input)
				Expect(result).To(Equal("text?more"))
			})

			It("should preserve valid whitespace", func() {
				input := "text\twith\nlines\r"
				result := SanitizeForLogging(input)
				Expect(result).To(Equal(input))
			})
		})

		Context("with long input", func() {
			It("should truncate long strings", func() {
				longInput := strings.Repeat("a", 300)

				result := SanitizeForLogging(longInput)
				Expect(len(result)).To(Equal(200))
				Expect(result).To(HaveSuffix("..."))
			})
		})
	})
})

package validation_test

import (
	"time"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/frahmantamala/payment-reconciliation/internal"
	"github.com/frahmantamala/payment-reconciliation/internal/core/common/validation"
)

var _ = Describe("ValidationBuilder", func() {
	It("passes when every field is valid", func() {
		v := validation.NewValidator()
		v.Field("event", "payment.captured").Required().OneOf([]string{"payment.captured"}, internal.ErrCodeInvalidPayload)
		v.Field("amount", int64(500)).MinInt(1, internal.ErrCodeValidationFailed)
		Expect(v.Validate()).To(BeNil())
	})

	It("collects every failing field", func() {
		v := validation.NewValidator()
		v.Field("entity", "").Required()
		v.Field("event", "payment.unknown").OneOf([]string{"payment.captured"}, internal.ErrCodeInvalidPayload)
		v.Field("note", "abcdef").MaxLength(3)

		appErr := v.Validate()
		Expect(appErr).NotTo(BeNil())
		Expect(appErr.Code).To(Equal(internal.ErrCodeValidationFailed))

		messages := validation.Messages(appErr)
		Expect(messages).To(HaveLen(3))
		Expect(messages[0]).To(Equal("entity is required"))
		Expect(messages[1]).To(ContainSubstring("must be one of"))
		Expect(messages[2]).To(ContainSubstring("must not exceed 3 characters"))
	})

	It("leaves empty values to Required in OneOf", func() {
		v := validation.NewValidator()
		v.Field("type", "").OneOf([]string{"manual"}, internal.ErrCodeValidationFailed)
		Expect(v.Validate()).To(BeNil())
	})

	Describe("Within", func() {
		now := time.Date(2025, 3, 10, 12, 0, 0, 0, time.UTC)

		check := func(ts time.Time) []string {
			v := validation.NewValidator()
			v.Field("created_at", ts).Within(now, 5*time.Minute, time.Minute, internal.ErrCodeReplayWindow)
			return validation.Messages(v.Validate())
		}

		It("rejects timestamps older than the window", func() {
			Expect(check(now.Add(-10 * time.Minute))).To(ConsistOf(ContainSubstring("older than")))
		})

		It("accepts small future skew", func() {
			Expect(check(now.Add(30 * time.Second))).To(BeEmpty())
		})

		It("rejects timestamps too far in the future", func() {
			Expect(check(now.Add(2 * time.Minute))).To(ConsistOf(ContainSubstring("in the future")))
		})
	})
})

var _ = Describe("ValidatePeriod", func() {
	start := time.Date(2025, 3, 1, 0, 0, 0, 0, time.UTC)

	It("accepts a period within the span", func() {
		Expect(validation.ValidatePeriod(start, start.Add(24*time.Hour), 48*time.Hour)).To(BeNil())
	})

	It("rejects an end before the start", func() {
		appErr := validation.ValidatePeriod(start, start.Add(-time.Hour), 0)
		Expect(appErr).NotTo(BeNil())
		Expect(validation.Messages(appErr)).To(ContainElement("period_start must be before period_end"))
	})

	It("rejects a period longer than the span", func() {
		appErr := validation.ValidatePeriod(start, start.Add(72*time.Hour), 48*time.Hour)
		Expect(appErr).NotTo(BeNil())
		Expect(validation.Messages(appErr)).To(ContainElement(ContainSubstring("period must not exceed")))
	})

	It("requires both ends", func() {
		appErr := validation.ValidatePeriod(time.Time{}, time.Time{}, 0)
		Expect(validation.Messages(appErr)).To(ConsistOf("period_start is required", "period_end is required"))
	})
})

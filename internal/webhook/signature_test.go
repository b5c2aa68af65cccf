package webhook_test

import (
	"context"
	"strings"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/frahmantamala/payment-reconciliation/internal/webhook"
)

const testSecret = "whsec_0123456789abcdef0123456789abcdef"

var _ = Describe("Signature verification", func() {
	body := []byte(`{"entity":"event","event":"payment.captured"}`)

	It("accepts a signature produced with the shared secret", func() {
		sig := webhook.Sign(body, testSecret)
		Expect(sig).To(HavePrefix("sha256="))
		Expect(sig).To(HaveLen(len("sha256=") + 64))
		Expect(webhook.VerifySignature(body, sig, testSecret)).To(BeTrue())
	})

	It("rejects any single flipped byte in the body", func() {
		sig := webhook.Sign(body, testSecret)
		for i := range body {
			tampered := append([]byte(nil), body...)
			tampered[i] ^= 0x01
			Expect(webhook.VerifySignature(tampered, sig, testSecret)).To(BeFalse(), "byte %d", i)
		}
	})

	It("rejects any single changed hex digit in the signature", func() {
		sig := webhook.Sign(body, testSecret)
		for i := len("sha256="); i < len(sig); i++ {
			replacement := byte('0')
			if sig[i] == '0' {
				replacement = '1'
			}
			tampered := sig[:i] + string(replacement) + sig[i+1:]
			Expect(webhook.VerifySignature(body, tampered, testSecret)).To(BeFalse(), "position %d", i)
		}
	})

	DescribeTable("rejects malformed input without panicking",
		func(signature, secret string) {
			Expect(func() {
				Expect(webhook.VerifySignature(body, signature, secret)).To(BeFalse())
			}).NotTo(Panic())
		},
		Entry("empty signature", "", testSecret),
		Entry("missing prefix", strings.Repeat("a", 64), testSecret),
		Entry("uppercase hex", "sha256="+strings.Repeat("A", 64), testSecret),
		Entry("short digest", "sha256="+strings.Repeat("a", 62), testSecret),
		Entry("long digest", "sha256="+strings.Repeat("a", 66), testSecret),
		Entry("non-hex", "sha256="+strings.Repeat("z", 64), testSecret),
		Entry("empty secret", webhook.Sign(body, ""), ""),
		Entry("short secret", webhook.Sign(body, "too-short"), "too-short"),
	)

	Describe("Verifier", func() {
		It("accepts signatures from any active secret", func() {
			previous := "whsec_previous_0123456789abcdef012345"
			v := webhook.NewVerifier(webhook.StaticSecrets{testSecret, previous})

			Expect(v.Verify(context.Background(), body, webhook.Sign(body, testSecret))).To(BeTrue())
			Expect(v.Verify(context.Background(), body, webhook.Sign(body, previous))).To(BeTrue())
			Expect(v.Verify(context.Background(), body, webhook.Sign(body, "whsec_unknown_0123456789abcdef0123456"))).To(BeFalse())
		})

		It("rejects everything when no secret is configured", func() {
			v := webhook.NewVerifier(webhook.StaticSecrets{""})
			Expect(v.Verify(context.Background(), body, webhook.Sign(body, testSecret))).To(BeFalse())
		})
	})
})

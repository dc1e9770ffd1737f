package receipt

import (
	"time"

	"cloud.google.com/go/civil"
	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/zombor/snapspend/internal/scanning"
)

var _ = Describe("Normalize", func() {
	var (
		raw     *scanning.RawExtraction
		receipt *Receipt
	)

	BeforeEach(func() {
		raw = &scanning.RawExtraction{}
	})

	JustBeforeEach(func() {
		receipt = Normalize(raw)
	})

	When("the extraction is empty", func() {
		It("fills every defaulted field", func() {
			Expect(receipt.StoreName).To(BeNil())
			Expect(receipt.Category).To(Equal(""))
			Expect(receipt.TotalAmount.Valid).To(BeFalse())
			Expect(receipt.SubtotalAmount.Valid).To(BeFalse())
			Expect(receipt.TaxAmount.IsZero()).To(BeTrue())
			Expect(receipt.Currency).To(Equal(HomeCurrency))
			Expect(receipt.Date).To(BeNil())
			Expect(receipt.Items).NotTo(BeNil())
			Expect(receipt.Items).To(BeEmpty())
		})

		It("leaves identity and timestamps to the caller", func() {
			Expect(receipt.ID).To(BeEmpty())
			Expect(receipt.CreatedAt.IsZero()).To(BeTrue())
		})
	})

	When("the extraction is nil", func() {
		BeforeEach(func() {
			raw = nil
		})

		It("normalizes as if empty", func() {
			Expect(receipt.Currency).To(Equal(HomeCurrency))
			Expect(receipt.Items).To(BeEmpty())
		})
	})

	When("fields are present", func() {
		BeforeEach(func() {
			raw = &scanning.RawExtraction{
				StoreName:       ptr("  7-Eleven "),
				StoreAddress:    ptr("Makati City"),
				StoreTaxID:      ptr("123-456-789-000"),
				PaymentMethod:   ptr("GCash"),
				SubtotalAmount:  num("80.355"),
				TotalAmount:     num("90"),
				TaxAmount:       num("9.644"),
				Currency:        ptr("usd"),
				Category:        ptr("Convenience Store"),
				ConfidenceScore: ptr(0.87),
			}
		})

		It("copies strings as-is", func() {
			Expect(*receipt.StoreName).To(Equal("  7-Eleven "))
			Expect(*receipt.StoreAddress).To(Equal("Makati City"))
			Expect(*receipt.StoreTaxID).To(Equal("123-456-789-000"))
			Expect(*receipt.PaymentMethod).To(Equal("GCash"))
			Expect(receipt.Category).To(Equal("Convenience Store"))
			Expect(*receipt.ConfidenceScore).To(Equal(0.87))
		})

		It("rounds amounts to two places", func() {
			Expect(receipt.SubtotalAmount.Decimal.StringFixed(2)).To(Equal("80.36"))
			Expect(receipt.TotalAmount.Decimal.StringFixed(2)).To(Equal("90.00"))
			Expect(receipt.TaxAmount.StringFixed(2)).To(Equal("9.64"))
		})

		It("normalizes the currency", func() {
			Expect(receipt.Currency).To(Equal(USD))
		})

		It("does not alias the raw extraction", func() {
			*raw.StoreName = "changed"
			Expect(*receipt.StoreName).To(Equal("  7-Eleven "))
		})
	})

	DescribeTable("parses the date",
		func(rawDate *string, want *civil.Date) {
			receipt := Normalize(&scanning.RawExtraction{Date: rawDate})
			if want == nil {
				Expect(receipt.Date).To(BeNil())
				return
			}
			Expect(receipt.Date).NotTo(BeNil())
			Expect(*receipt.Date).To(Equal(*want))
		},
		Entry("date-time", ptr("2024-03-15T00:00:00"), &civil.Date{Year: 2024, Month: time.March, Day: 15}),
		Entry("date-time with zone", ptr("2024-03-15T23:30:00+08:00"), &civil.Date{Year: 2024, Month: time.March, Day: 15}),
		Entry("date-time with space", ptr("2024-03-15 08:15"), &civil.Date{Year: 2024, Month: time.March, Day: 15}),
		Entry("plain date", ptr("2024-03-15"), &civil.Date{Year: 2024, Month: time.March, Day: 15}),
		Entry("free text", ptr("March 15"), nil),
		Entry("day first", ptr("15/03/2024"), nil),
		Entry("impossible date", ptr("2024-02-30"), nil),
		Entry("padded date", ptr(" 2024-03-15 "), nil),
		Entry("empty", ptr(""), nil),
		Entry("missing", nil, nil),
	)

	When("items are present", func() {
		BeforeEach(func() {
			raw.Items = []*scanning.RawItem{
				{Description: ptr("Coffee")},
				nil,
				{Description: nil, LineTotal: num("5")},
				{Description: ptr(""), LineTotal: num("6")},
				{Description: ptr(" \t"), LineTotal: num("7")},
				{Description: ptr("Donut"), Quantity: num("0"), UnitPrice: num("35.5"), LineTotal: num("71")},
			}
		})

		It("drops items without a description", func() {
			Expect(receipt.Items).To(HaveLen(2))
			for _, item := range receipt.Items {
				Expect(item.Description).NotTo(BeEmpty())
			}
		})

		It("defaults missing numbers", func() {
			coffee := receipt.Items[0]
			Expect(coffee.Description).To(Equal("Coffee"))
			Expect(coffee.Quantity.StringFixed(2)).To(Equal("1.00"))
			Expect(coffee.UnitPrice.IsZero()).To(BeTrue())
			Expect(coffee.LineTotal.IsZero()).To(BeTrue())
		})

		It("keeps an explicit zero quantity", func() {
			Expect(receipt.Items[1].Quantity.IsZero()).To(BeTrue())
		})

		It("preserves order", func() {
			Expect(receipt.Items[0].Position).To(Equal(0))
			Expect(receipt.Items[1].Position).To(Equal(1))
			Expect(receipt.Items[1].Description).To(Equal("Donut"))
		})
	})

	It("is deterministic", func() {
		raw := &scanning.RawExtraction{
			StoreName:   ptr("Shop"),
			Date:        ptr("2024-03-15"),
			TotalAmount: num("12.345"),
			Currency:    ptr("PESO"),
			Items:       []*scanning.RawItem{{Description: ptr("Tea"), Quantity: num("2")}},
		}
		Expect(Normalize(raw)).To(Equal(Normalize(raw)))
	})
})

package scanning

import (
	"context"
	"errors"
	"time"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
)

var _ = Describe("CachingExtractor", func() {
	var (
		next      *stubExtractor
		extractor *CachingExtractor
		ctx       context.Context
	)

	BeforeEach(func() {
		name := "Cached Store"
		next = &stubExtractor{data: &RawExtraction{StoreName: &name}}
		extractor = NewCachingExtractor(next, time.Minute)
		ctx = context.Background()
	})

	When("the same image is extracted twice", func() {
		It("should call the model once", func() {
			first, err := extractor.Extract(ctx, []byte("image"), "image/jpeg")
			Expect(err).NotTo(HaveOccurred())
			second, err := extractor.Extract(ctx, []byte("image"), "image/jpeg")
			Expect(err).NotTo(HaveOccurred())

			Expect(next.calls.Load()).To(Equal(int32(1)))
			Expect(second).To(BeIdenticalTo(first))
		})
	})

	When("the images differ", func() {
		It("should call the model for each", func() {
			_, _ = extractor.Extract(ctx, []byte("image-1"), "image/jpeg")
			_, _ = extractor.Extract(ctx, []byte("image-2"), "image/jpeg")
			Expect(next.calls.Load()).To(Equal(int32(2)))
		})
	})

	When("the content type differs", func() {
		It("should not share the entry", func() {
			_, _ = extractor.Extract(ctx, []byte("image"), "image/jpeg")
			_, _ = extractor.Extract(ctx, []byte("image"), "image/png")
			Expect(next.calls.Load()).To(Equal(int32(2)))
		})
	})

	When("the extraction fails", func() {
		BeforeEach(func() {
			next.err = extractionFailed("stub", errors.New("boom"))
		})

		It("should not cache the failure", func() {
			_, err := extractor.Extract(ctx, []byte("image"), "image/jpeg")
			Expect(err).To(HaveOccurred())
			_, err = extractor.Extract(ctx, []byte("image"), "image/jpeg")
			Expect(err).To(HaveOccurred())
			Expect(next.calls.Load()).To(Equal(int32(2)))
		})
	})

	It("should close the wrapped extractor", func() {
		Expect(extractor.Close()).To(Succeed())
		Expect(next.closed).To(BeTrue())
	})
})

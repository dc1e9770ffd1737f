package scanning

import (
	"bytes"
	"image/png"
	"strings"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
)

var _ = Describe("prepareImageData", func() {
	When("the upload is a JPEG", func() {
		It("should convert it to PNG", func() {
			out, err := prepareImageData(testJPEG(), "image/jpeg")
			Expect(err).NotTo(HaveOccurred())
			_, decodeErr := png.Decode(bytes.NewReader(out))
			Expect(decodeErr).NotTo(HaveOccurred())
		})
	})

	When("the upload is already PNG", func() {
		It("should pass it through unchanged", func() {
			in := testPNG()
			out, err := prepareImageData(in, "IMAGE/PNG")
			Expect(err).NotTo(HaveOccurred())
			Expect(out).To(Equal(in))
		})
	})

	When("the content type carries parameters", func() {
		It("should ignore them", func() {
			in := testPNG()
			out, err := prepareImageData(in, "image/png; charset=binary")
			Expect(err).NotTo(HaveOccurred())
			Expect(out).To(Equal(in))
		})
	})

	When("the data is not an image", func() {
		It("returns the error", func() {
			_, err := prepareImageData([]byte("definitely not an image"), "image/jpeg")
			Expect(err).To(HaveOccurred())
		})
	})

	When("the data is empty", func() {
		It("returns ErrEmptyImage", func() {
			_, err := prepareImageData(nil, "image/jpeg")
			Expect(err).To(MatchError(ErrEmptyImage))
		})
	})
})

var _ = Describe("isHEICFormat", func() {
	It("should detect the heic brand", func() {
		data := append([]byte{0, 0, 0, 24}, []byte("ftypheic0000")...)
		Expect(isHEICFormat(data)).To(BeTrue())
	})

	It("should reject short data", func() {
		Expect(isHEICFormat([]byte("ftyp"))).To(BeFalse())
	})
})

var _ = Describe("pngDataURL", func() {
	It("should prefix the MIME type marker", func() {
		Expect(strings.HasPrefix(pngDataURL([]byte{1, 2, 3}), "data:image/png;base64,AQID")).To(BeTrue())
	})
})

package receipt_test

import (
	"bytes"
	"context"
	"encoding/json"
	"image"
	"image/color"
	"image/png"
	"io"
	"mime/multipart"
	"net/http"
	"os"
	"path/filepath"
	"time"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
	"github.com/onsi/gomega/ghttp"

	"github.com/zombor/snapspend/internal/receipt"
	"github.com/zombor/snapspend/internal/scanning"
)

const modelAnswer = "```json\n" + `{
  "store_name": "Mercury Drug",
  "store_address": null,
  "date": "2024-03-15T10:22:00",
  "payment_method": "GCash",
  "subtotal_amount": "1,102.23",
  "tax_amount": null,
  "total_amount": "1,234.50",
  "currency": "PESO",
  "category": "Health & Medical",
  "items": [
    {"description": "Biogesic 500mg", "quantity": 2, "unit_price": 5.25, "line_total": 10.5},
    {"description": "", "quantity": 1, "unit_price": 1, "line_total": 1},
    {"description": "Vitamin C", "quantity": null, "unit_price": null, "line_total": null}
  ],
  "confidence_score": 0.91
}` + "\n```"

func receiptPNG() []byte {
	img := image.NewRGBA(image.Rect(0, 0, 8, 8))
	for x := 0; x < 8; x++ {
		for y := 0; y < 8; y++ {
			img.Set(x, y, color.RGBA{R: 250, G: 250, B: 250, A: 255})
		}
	}
	var buf bytes.Buffer
	Expect(png.Encode(&buf, img)).To(Succeed())
	return buf.Bytes()
}

var _ = Describe("Integration", func() {
	var (
		tempDir     string
		storagePath string
		db          receipt.DB
		store       receipt.Storage
		extractor   scanning.Extractor
		modelServer *ghttp.Server
		ghServer    *ghttp.Server
		imageData   []byte
	)

	BeforeEach(func() {
		var err error
		tempDir = GinkgoT().TempDir()
		storagePath = filepath.Join(tempDir, "receipts")

		db, err = receipt.NewBoltDB(filepath.Join(tempDir, "test.db"))
		Expect(err).NotTo(HaveOccurred())

		store, err = receipt.NewLocalStorage(storagePath)
		Expect(err).NotTo(HaveOccurred())

		// One model call only: the cache must answer the repeated upload
		modelServer = ghttp.NewServer()
		modelServer.AppendHandlers(ghttp.CombineHandlers(
			ghttp.VerifyRequest("POST", "/v1/chat/completions"),
			ghttp.RespondWithJSONEncoded(http.StatusOK, map[string]any{
				"choices": []map[string]any{
					{"message": map[string]any{"role": "assistant", "content": modelAnswer}},
				},
			}),
		))

		openai, err := scanning.NewOpenAI(scanning.OpenAIConfig{
			APIKey:  "test-key",
			BaseURL: modelServer.URL() + "/v1",
		})
		Expect(err).NotTo(HaveOccurred())
		extractor = scanning.NewCachingExtractor(openai, time.Minute)

		service := receipt.NewService(db, extractor, store, receipt.Config{ExtractTimeout: 5 * time.Second, BatchConcurrency: 2})
		server := receipt.NewServer(service, receipt.BasicAuth{})

		ghServer = ghttp.NewServer()
		for range 8 {
			ghServer.AppendHandlers(server.ServeHTTP)
		}

		imageData = receiptPNG()
	})

	AfterEach(func() {
		ghServer.Close()
		modelServer.Close()
		Expect(extractor.Close()).To(Succeed())
		Expect(db.Close()).To(Succeed())
	})

	upload := func(files map[string][]byte) *http.Response {
		body := &bytes.Buffer{}
		writer := multipart.NewWriter(body)
		for name, data := range files {
			part, err := writer.CreateFormFile("files", name)
			Expect(err).NotTo(HaveOccurred())
			_, err = part.Write(data)
			Expect(err).NotTo(HaveOccurred())
		}
		Expect(writer.Close()).To(Succeed())

		req, err := http.NewRequest("POST", ghServer.URL()+"/api/receipts/upload", body)
		Expect(err).NotTo(HaveOccurred())
		req.Header.Set("Content-Type", writer.FormDataContentType())
		resp, err := http.DefaultClient.Do(req)
		Expect(err).NotTo(HaveOccurred())
		return resp
	}

	decode := func(resp *http.Response, v any) {
		defer resp.Body.Close()
		body, err := io.ReadAll(resp.Body)
		Expect(err).NotTo(HaveOccurred())
		Expect(json.Unmarshal(body, v)).To(Succeed(), string(body))
	}

	It("extracts, normalizes and stores a batch, keeping failures per file", func() {
		resp := upload(map[string][]byte{
			"receipt.png": imageData,
			"broken.jpg":  []byte("not an image"),
		})
		Expect(resp.StatusCode).To(Equal(http.StatusCreated))

		var result struct {
			Receipts []*receipt.Receipt   `json:"receipts"`
			Errors   []receipt.UploadError `json:"errors"`
		}
		decode(resp, &result)
		Expect(result.Receipts).To(HaveLen(1))
		Expect(result.Errors).To(HaveLen(1))
		Expect(result.Errors[0].File).To(Equal("broken.jpg"))
		Expect(result.Errors[0].Error).To(ContainSubstring("openai extraction failed"))

		// The stored record is normalized
		saved, err := db.GetReceipt(result.Receipts[0].ID)
		Expect(err).NotTo(HaveOccurred())
		Expect(*saved.StoreName).To(Equal("Mercury Drug"))
		Expect(saved.Date.String()).To(Equal("2024-03-15"))
		Expect(saved.Currency).To(Equal(receipt.PHP))
		Expect(saved.TaxAmount.IsZero()).To(BeTrue())
		Expect(saved.TotalAmount.Decimal.StringFixed(2)).To(Equal("1234.50"))
		Expect(saved.Category).To(Equal("Health & Medical"))
		Expect(saved.Items).To(HaveLen(2))
		Expect(saved.Items[0].Description).To(Equal("Biogesic 500mg"))
		Expect(saved.Items[1].Description).To(Equal("Vitamin C"))
		Expect(saved.Items[1].Quantity.StringFixed(2)).To(Equal("1.00"))
		Expect(saved.Items[1].LineTotal.IsZero()).To(BeTrue())

		// The image is kept for the good upload only
		entries, err := os.ReadDir(storagePath)
		Expect(err).NotTo(HaveOccurred())
		Expect(entries).To(HaveLen(1))
		data, err := store.Get(context.Background(), saved.Filename)
		Expect(err).NotTo(HaveOccurred())
		Expect(data).To(Equal(imageData))

		fileResp, err := http.Get(ghServer.URL() + result.Receipts[0].FileURL)
		Expect(err).NotTo(HaveOccurred())
		defer fileResp.Body.Close()
		Expect(fileResp.StatusCode).To(Equal(http.StatusOK))
		Expect(fileResp.Header.Get("Content-Type")).To(Equal("image/png"))

		Expect(modelServer.ReceivedRequests()).To(HaveLen(1))
	})

	It("answers a repeated upload from the cache", func() {
		first := upload(map[string][]byte{"receipt.png": imageData})
		Expect(first.StatusCode).To(Equal(http.StatusCreated))
		first.Body.Close()

		second := upload(map[string][]byte{"same-receipt.png": imageData})
		Expect(second.StatusCode).To(Equal(http.StatusCreated))
		second.Body.Close()

		receipts, err := db.ListReceipts()
		Expect(err).NotTo(HaveOccurred())
		Expect(receipts).To(HaveLen(2))
		Expect(modelServer.ReceivedRequests()).To(HaveLen(1))
	})

	It("removes a receipt with its items and image", func() {
		resp := upload(map[string][]byte{"receipt.png": imageData})
		var result struct {
			Receipts []*receipt.Receipt `json:"receipts"`
		}
		decode(resp, &result)
		stored := result.Receipts[0]

		req, err := http.NewRequest("DELETE", ghServer.URL()+"/api/receipts/"+stored.ID, nil)
		Expect(err).NotTo(HaveOccurred())
		delResp, err := http.DefaultClient.Do(req)
		Expect(err).NotTo(HaveOccurred())
		delResp.Body.Close()
		Expect(delResp.StatusCode).To(Equal(http.StatusNoContent))

		_, err = db.GetReceipt(stored.ID)
		Expect(err).To(MatchError(receipt.ErrNotFound))
		_, err = db.GetLineItem(stored.Items[0].ID)
		Expect(err).To(MatchError(receipt.ErrNotFound))
		Expect(filepath.Join(storagePath, stored.Filename)).NotTo(BeAnExistingFile())
	})
})

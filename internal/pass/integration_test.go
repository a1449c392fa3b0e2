package pass_test

import (
	"bytes"
	"encoding/json"
	"image"
	"image/color"
	"image/png"
	"io"
	"mime/multipart"
	"net/http"
	"os"
	"path/filepath"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
	"github.com/onsi/gomega/ghttp"

	"github.com/zombor/visitor-pass/internal/capture"
	"github.com/zombor/visitor-pass/internal/compose"
	"github.com/zombor/visitor-pass/internal/pass"
)

func solidPNG(w, h int, c color.Color) []byte {
	img := image.NewNRGBA(image.Rect(0, 0, w, h))
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			img.Set(x, y, c)
		}
	}
	var buf bytes.Buffer
	Expect(png.Encode(&buf, img)).To(Succeed())
	return buf.Bytes()
}

var _ = Describe("Integration", func() {
	var (
		tempDir  string
		db       *pass.BoltDB
		ghServer *ghttp.Server
	)

	BeforeEach(func() {
		var err error
		tempDir, err = os.MkdirTemp("", "visitor-pass-test-*")
		Expect(err).NotTo(HaveOccurred())

		assetsDir := filepath.Join(tempDir, "assets")
		Expect(os.MkdirAll(assetsDir, 0755)).To(Succeed())
		Expect(os.WriteFile(filepath.Join(assetsDir, "template.png"), solidPNG(120, 160, color.Black), 0644)).To(Succeed())

		db, err = pass.NewBoltDB(filepath.Join(tempDir, "test.db"))
		Expect(err).NotTo(HaveOccurred())

		assets, err := pass.NewLocalStorage(assetsDir)
		Expect(err).NotTo(HaveOccurred())

		layout := compose.DefaultLayout()
		layout.PhotoRect = image.Rect(70, 20, 110, 80)
		layout.NameAnchor = image.Pt(8, 140)
		layout.FontSize = 14

		service := pass.NewService(db, assets, "template.png", layout)
		server := pass.NewServer(service, capture.DefaultConfig())

		ghServer = ghttp.NewServer()
		ghServer.AppendHandlers(server.ServeHTTP, server.ServeHTTP)
	})

	AfterEach(func() {
		if ghServer != nil {
			ghServer.Close()
		}
		if db != nil {
			db.Close()
		}
		if tempDir != "" {
			os.RemoveAll(tempDir)
		}
	})

	It("should render a pass from an upload and record it in the ledger", func() {
		// --- Step 1: Create the pass ---
		body := &bytes.Buffer{}
		writer := multipart.NewWriter(body)
		Expect(writer.WriteField("name", "Grace Hopper")).To(Succeed())
		part, err := writer.CreateFormFile("photo", "grace.png")
		Expect(err).NotTo(HaveOccurred())
		_, err = part.Write(solidPNG(30, 60, color.White))
		Expect(err).NotTo(HaveOccurred())
		Expect(writer.Close()).To(Succeed())

		req, err := http.NewRequest("POST", ghServer.URL()+"/api/passes", body)
		Expect(err).NotTo(HaveOccurred())
		req.Header.Set("Content-Type", writer.FormDataContentType())

		resp, err := http.DefaultClient.Do(req)
		Expect(err).NotTo(HaveOccurred())
		defer resp.Body.Close()

		Expect(resp.StatusCode).To(Equal(http.StatusOK))
		data, err := io.ReadAll(resp.Body)
		Expect(err).NotTo(HaveOccurred())
		img, err := png.Decode(bytes.NewReader(data))
		Expect(err).NotTo(HaveOccurred())
		Expect(img.Bounds().Size()).To(Equal(image.Pt(120, 160)))

		id := resp.Header.Get("X-Pass-ID")
		Expect(id).NotTo(BeEmpty())

		// --- Step 2: Look it up ---
		getResp, err := http.Get(ghServer.URL() + "/api/passes/" + id)
		Expect(err).NotTo(HaveOccurred())
		defer getResp.Body.Close()
		Expect(getResp.StatusCode).To(Equal(http.StatusOK))

		var saved pass.Pass
		Expect(json.NewDecoder(getResp.Body).Decode(&saved)).To(Succeed())
		Expect(saved.ID).To(Equal(id))
		Expect(saved.Filename).To(HavePrefix("visitor-pass-grace-hopper-"))
		Expect(saved.Size).To(Equal(len(data)))
		Expect(saved.Width).To(Equal(120))
	})
})

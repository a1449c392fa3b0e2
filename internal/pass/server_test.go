package pass

import (
	"bytes"
	"encoding/json"
	"image/color"
	"image/png"
	"io"
	"mime"
	"mime/multipart"
	"net/http"
	"net/textproto"
	"regexp"
	"strings"
	"time"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
	"github.com/onsi/gomega/ghttp"

	"github.com/zombor/visitor-pass/internal/capture"
)

var _ = Describe("Server", func() {
	var (
		db          *mockDB
		assets      *mockStorage
		service     *Service
		cfg         capture.Config
		server      *Server
		ghttpServer *ghttp.Server
	)

	setupServer := func() {
		if ghttpServer != nil {
			ghttpServer.Close()
		}
		server = NewServerWithMux(service, cfg, http.NewServeMux())
		ghttpServer = ghttp.NewServer()
		api := regexp.MustCompile(`^/api/`)
		ghttpServer.RouteToHandler("GET", api, server.ServeHTTP)
		ghttpServer.RouteToHandler("POST", api, server.ServeHTTP)
	}

	BeforeEach(func() {
		db = newMockDB()
		assets = newMockStorage()
		assets.files[templatePath] = pngBytes(100, 100, color.Black)
		service = NewServiceWithDeps(db, assets, templatePath, testLayout(),
			&mockIDGenerator{id: "pass-1"}, &mockTimeSource{now: time.UnixMilli(1700000000000)})
		cfg = capture.DefaultConfig()
		setupServer()
	})

	AfterEach(func() {
		if ghttpServer != nil {
			ghttpServer.Close()
		}
	})

	multipartRequest := func(name string, photo []byte, contentType string) *http.Request {
		var body bytes.Buffer
		mw := multipart.NewWriter(&body)
		if name != "" {
			Expect(mw.WriteField("name", name)).To(Succeed())
		}
		if photo != nil {
			h := make(textproto.MIMEHeader)
			h.Set("Content-Disposition", `form-data; name="photo"; filename="me.png"`)
			h.Set("Content-Type", contentType)
			part, err := mw.CreatePart(h)
			Expect(err).NotTo(HaveOccurred())
			_, err = part.Write(photo)
			Expect(err).NotTo(HaveOccurred())
		}
		Expect(mw.Close()).To(Succeed())

		req, err := http.NewRequest("POST", ghttpServer.URL()+"/api/passes", &body)
		Expect(err).NotTo(HaveOccurred())
		req.Header.Set("Content-Type", mw.FormDataContentType())
		return req
	}

	decodeError := func(resp *http.Response) string {
		var body map[string]string
		Expect(json.NewDecoder(resp.Body).Decode(&body)).To(Succeed())
		return body["error"]
	}

	Describe("handleHealth", func() {
		It("should report ok", func() {
			resp, err := http.Get(ghttpServer.URL() + "/api/health")
			Expect(err).NotTo(HaveOccurred())
			defer resp.Body.Close()
			Expect(resp.StatusCode).To(Equal(http.StatusOK))
		})
	})

	Describe("handleCreatePass", func() {
		When("a multipart upload carries a name and a photo", func() {
			var resp *http.Response

			BeforeEach(func() {
				var err error
				resp, err = http.DefaultClient.Do(multipartRequest("Ada Lovelace", pngBytes(20, 40, color.White), "image/png"))
				Expect(err).NotTo(HaveOccurred())
			})

			AfterEach(func() {
				resp.Body.Close()
			})

			It("should return the pass as a PNG attachment", func() {
				Expect(resp.StatusCode).To(Equal(http.StatusOK))
				Expect(resp.Header.Get("Content-Type")).To(Equal("image/png"))

				_, params, err := mime.ParseMediaType(resp.Header.Get("Content-Disposition"))
				Expect(err).NotTo(HaveOccurred())
				Expect(params["filename"]).To(Equal("visitor-pass-ada-lovelace-1700000000000.png"))

				body, err := io.ReadAll(resp.Body)
				Expect(err).NotTo(HaveOccurred())
				img, err := png.Decode(bytes.NewReader(body))
				Expect(err).NotTo(HaveOccurred())
				Expect(img.Bounds().Dx()).To(Equal(100))
			})

			It("should identify the ledger entry", func() {
				Expect(resp.Header.Get("X-Pass-ID")).To(Equal("pass-1"))
				Expect(db.passes).To(HaveKey("pass-1"))
			})
		})

		When("the photo is missing", func() {
			It("should ask for a photo", func() {
				resp, err := http.DefaultClient.Do(multipartRequest("Ada", nil, ""))
				Expect(err).NotTo(HaveOccurred())
				defer resp.Body.Close()
				Expect(resp.StatusCode).To(Equal(http.StatusBadRequest))
				Expect(decodeError(resp)).To(Equal("Please add a photo before submitting"))
				Expect(db.passes).To(BeEmpty())
			})
		})

		When("the name is missing", func() {
			It("should ask for a name", func() {
				resp, err := http.DefaultClient.Do(multipartRequest("", pngBytes(4, 4, color.White), "image/png"))
				Expect(err).NotTo(HaveOccurred())
				defer resp.Body.Close()
				Expect(resp.StatusCode).To(Equal(http.StatusBadRequest))
				Expect(decodeError(resp)).To(Equal("Please enter your name"))
			})
		})

		When("the photo is over the limit", func() {
			BeforeEach(func() {
				cfg.MaxUploadBytes = 64
				setupServer()
			})

			It("should reject it as too large", func() {
				resp, err := http.DefaultClient.Do(multipartRequest("Ada", make([]byte, 65), "image/png"))
				Expect(err).NotTo(HaveOccurred())
				defer resp.Body.Close()
				Expect(resp.StatusCode).To(Equal(http.StatusRequestEntityTooLarge))
			})
		})

		When("the upload is not an image", func() {
			It("should reject it", func() {
				resp, err := http.DefaultClient.Do(multipartRequest("Ada", []byte("hello"), "text/plain"))
				Expect(err).NotTo(HaveOccurred())
				defer resp.Body.Close()
				Expect(resp.StatusCode).To(Equal(http.StatusBadRequest))
				Expect(decodeError(resp)).To(Equal("Please upload an image file"))
			})
		})

		When("the photo cannot be decoded", func() {
			It("should report a photo load failure", func() {
				resp, err := http.DefaultClient.Do(multipartRequest("Ada", []byte("garbage"), "image/png"))
				Expect(err).NotTo(HaveOccurred())
				defer resp.Body.Close()
				Expect(resp.StatusCode).To(Equal(http.StatusUnprocessableEntity))
				Expect(decodeError(resp)).To(Equal("Failed to load user photo"))
			})
		})

		When("the photo header claims enormous dimensions", func() {
			It("should answer with a photo load failure", func() {
				resp, err := http.DefaultClient.Do(multipartRequest("Ada", pngHeader(33554432, 33554432), "image/png"))
				Expect(err).NotTo(HaveOccurred())
				defer resp.Body.Close()
				Expect(resp.StatusCode).To(Equal(http.StatusUnprocessableEntity))
				Expect(decodeError(resp)).To(Equal("Failed to load user photo"))
				Expect(db.passes).To(BeEmpty())
			})
		})

		When("the template is missing", func() {
			BeforeEach(func() {
				assets.getErr = io.ErrUnexpectedEOF
			})

			It("should report a template load failure", func() {
				resp, err := http.DefaultClient.Do(multipartRequest("Ada", pngBytes(4, 4, color.White), "image/png"))
				Expect(err).NotTo(HaveOccurred())
				defer resp.Body.Close()
				Expect(resp.StatusCode).To(Equal(http.StatusInternalServerError))
				Expect(decodeError(resp)).To(Equal("Failed to load template"))
			})
		})

		When("the photo arrives as a data URI", func() {
			It("should render the pass", func() {
				photo, err := capture.NewCapturedPhoto(pngBytes(20, 40, color.White), "image/png", 0)
				Expect(err).NotTo(HaveOccurred())
				payload, err := json.Marshal(map[string]string{"name": "Grace", "photo": photo.DataURI()})
				Expect(err).NotTo(HaveOccurred())

				resp, err := http.Post(ghttpServer.URL()+"/api/passes", "application/json", bytes.NewReader(payload))
				Expect(err).NotTo(HaveOccurred())
				defer resp.Body.Close()
				Expect(resp.StatusCode).To(Equal(http.StatusOK))
				Expect(resp.Header.Get("Content-Disposition")).To(ContainSubstring("visitor-pass-grace-1700000000000.png"))
			})

			It("should reject a malformed body", func() {
				resp, err := http.Post(ghttpServer.URL()+"/api/passes", "application/json", strings.NewReader("{"))
				Expect(err).NotTo(HaveOccurred())
				defer resp.Body.Close()
				Expect(resp.StatusCode).To(Equal(http.StatusBadRequest))
			})

			It("should ask for a photo when it is empty", func() {
				resp, err := http.Post(ghttpServer.URL()+"/api/passes", "application/json", strings.NewReader(`{"name":"Grace"}`))
				Expect(err).NotTo(HaveOccurred())
				defer resp.Body.Close()
				Expect(resp.StatusCode).To(Equal(http.StatusBadRequest))
				Expect(decodeError(resp)).To(Equal("Please add a photo before submitting"))
			})
		})
	})

	Describe("handleListPasses", func() {
		BeforeEach(func() {
			db.passes["a"] = &Pass{ID: "a"}
			db.passes["b"] = &Pass{ID: "b"}
		})

		It("should return every ledger entry", func() {
			resp, err := http.Get(ghttpServer.URL() + "/api/passes")
			Expect(err).NotTo(HaveOccurred())
			defer resp.Body.Close()
			Expect(resp.StatusCode).To(Equal(http.StatusOK))
			Expect(resp.Header.Get("Content-Type")).To(Equal("application/json"))

			var passes []*Pass
			Expect(json.NewDecoder(resp.Body).Decode(&passes)).To(Succeed())
			Expect(passes).To(HaveLen(2))
		})

		When("the ledger fails", func() {
			BeforeEach(func() {
				db.listErr = io.ErrUnexpectedEOF
			})

			It("should return an internal error", func() {
				resp, err := http.Get(ghttpServer.URL() + "/api/passes")
				Expect(err).NotTo(HaveOccurred())
				defer resp.Body.Close()
				Expect(resp.StatusCode).To(Equal(http.StatusInternalServerError))
			})
		})
	})

	Describe("handleGetPass", func() {
		It("should return a known pass", func() {
			db.passes["a"] = &Pass{ID: "a", Filename: "visitor-pass-a-1.png"}
			resp, err := http.Get(ghttpServer.URL() + "/api/passes/a")
			Expect(err).NotTo(HaveOccurred())
			defer resp.Body.Close()
			Expect(resp.StatusCode).To(Equal(http.StatusOK))

			var p Pass
			Expect(json.NewDecoder(resp.Body).Decode(&p)).To(Succeed())
			Expect(p.Filename).To(Equal("visitor-pass-a-1.png"))
		})

		It("should return 404 for an unknown pass", func() {
			resp, err := http.Get(ghttpServer.URL() + "/api/passes/missing")
			Expect(err).NotTo(HaveOccurred())
			defer resp.Body.Close()
			Expect(resp.StatusCode).To(Equal(http.StatusNotFound))
		})

		When("the ledger fails", func() {
			BeforeEach(func() {
				db.getErr = io.ErrUnexpectedEOF
			})

			It("should return an internal error rather than 404", func() {
				resp, err := http.Get(ghttpServer.URL() + "/api/passes/a")
				Expect(err).NotTo(HaveOccurred())
				defer resp.Body.Close()
				Expect(resp.StatusCode).To(Equal(http.StatusInternalServerError))
				Expect(decodeError(resp)).To(Equal("Internal server error"))
			})
		})
	})
})

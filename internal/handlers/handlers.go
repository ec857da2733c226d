package handlers

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/example/formreader/internal/interpret"
)

// multipartOverhead covers boundaries and part headers around the image.
const multipartOverhead = 1 << 20

var (
	errImageRequired = errors.New("image file is required")
	errTooLarge      = errors.New("image exceeds the upload limit")
)

// Processor runs the extraction pipeline for one upload.
type Processor interface {
	Process(ctx context.Context, imageBytes []byte) (string, interpret.Result)
}

// RegisterRoutes wires the HTTP handlers to the Gin router.
func RegisterRoutes(router *gin.Engine, processor Processor, maxUploadSize int64) {
	router.SetHTMLTemplate(pageTemplate)

	router.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})

	router.GET("/", func(c *gin.Context) {
		c.HTML(http.StatusOK, pageName, pageData{})
	})

	router.POST("/", func(c *gin.Context) {
		data, status, err := readUpload(c, maxUploadSize)
		if err != nil {
			c.HTML(status, pageName, pageData{Output: interpret.ErrorLabel + ": " + err.Error()})
			return
		}

		requestID, result := processor.Process(c.Request.Context(), data)
		c.HTML(http.StatusOK, pageName, pageData{Output: result.Text(), RequestID: requestID})
	})

	router.POST("/api/extract", func(c *gin.Context) {
		data, status, err := readUpload(c, maxUploadSize)
		if err != nil {
			c.JSON(status, gin.H{"error": err.Error()})
			return
		}

		requestID, result := processor.Process(c.Request.Context(), data)
		body := gin.H{
			"request_id": requestID,
			"kind":       result.Kind.String(),
			"result":     result.Text(),
		}
		switch result.Kind {
		case interpret.KindStructured:
			body["data"] = result.JSON
		case interpret.KindFailed:
			body["error_kind"] = result.ErrorKind
		}
		c.JSON(http.StatusOK, body)
	})
}

// readUpload returns the bytes of the "image" form file, or the status code
// to reject the request with.
func readUpload(c *gin.Context, maxUploadSize int64) ([]byte, int, error) {
	c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, maxUploadSize+multipartOverhead)

	file, err := c.FormFile("image")
	if err != nil {
		if isBodyTooLarge(err) {
			return nil, http.StatusRequestEntityTooLarge, errTooLarge
		}
		return nil, http.StatusBadRequest, errImageRequired
	}
	if file.Size > maxUploadSize {
		return nil, http.StatusRequestEntityTooLarge, errTooLarge
	}

	src, err := file.Open()
	if err != nil {
		return nil, http.StatusBadRequest, fmt.Errorf("unable to open image: %w", err)
	}
	defer src.Close()

	data, err := io.ReadAll(io.LimitReader(src, maxUploadSize+1))
	if err != nil {
		return nil, http.StatusInternalServerError, fmt.Errorf("failed to read image: %w", err)
	}
	if int64(len(data)) > maxUploadSize {
		return nil, http.StatusRequestEntityTooLarge, errTooLarge
	}
	return data, http.StatusOK, nil
}

func isBodyTooLarge(err error) bool {
	var maxErr *http.MaxBytesError
	if errors.As(err, &maxErr) {
		return true
	}
	// Some multipart errors flatten the cause into text.
	return strings.Contains(err.Error(), "request body too large")
}

package qr

import (
	"encoding/base64"
	"fmt"
	"strings"

	"github.com/skip2/go-qrcode"
)

const defaultSize = 256

// Generator renders QR codes that point at the public verify page.
type Generator struct {
	baseUrl string
	size    int
}

func NewGenerator(frontendUrl string) *Generator {
	return &Generator{
		baseUrl: strings.TrimRight(frontendUrl, "/"),
		size:    defaultSize,
	}
}

func (g *Generator) VerifyUrl(blockchainId int64) string {
	return fmt.Sprintf("%s/verify/%d", g.baseUrl, blockchainId)
}

// DataUrl encodes content as a PNG data URL.
func (g *Generator) DataUrl(content string) (string, error) {
	png, err := qrcode.Encode(content, qrcode.Medium, g.size)
	if err != nil {
		return "", fmt.Errorf("unable to encode qr code: %w", err)
	}
	return "data:image/png;base64," + base64.StdEncoding.EncodeToString(png), nil
}

// ForProduct returns the QR data URL for a product's verify page.
func (g *Generator) ForProduct(blockchainId int64) (string, error) {
	return g.DataUrl(g.VerifyUrl(blockchainId))
}

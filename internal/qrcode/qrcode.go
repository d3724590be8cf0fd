// Package qrcode renders the printable join-queue code a restaurant puts on
// its tables and door.
package qrcode

import (
	"fmt"
	"strings"

	"github.com/skip2/go-qrcode"
)

const DefaultSize = 256

type Generator struct {
	baseURL string
	size    int
	level   qrcode.RecoveryLevel
}

// NewGenerator builds a generator for links under baseURL. level is one of
// L, M, Q or H and defaults to M.
func NewGenerator(baseURL string, size int, level string) *Generator {
	if size <= 0 {
		size = DefaultSize
	}
	var l qrcode.RecoveryLevel
	switch strings.ToUpper(level) {
	case "L":
		l = qrcode.Low
	case "Q":
		l = qrcode.High
	case "H":
		l = qrcode.Highest
	default:
		l = qrcode.Medium
	}
	return &Generator{baseURL: strings.TrimRight(baseURL, "/"), size: size, level: l}
}

// JoinURL is the customer-facing page for joining a restaurant's queue.
func (g *Generator) JoinURL(restaurantID string) string {
	return fmt.Sprintf("%s/join-queue/%s/", g.baseURL, restaurantID)
}

func (g *Generator) JoinPNG(restaurantID string) ([]byte, error) {
	code, err := qrcode.New(g.JoinURL(restaurantID), g.level)
	if err != nil {
		return nil, fmt.Errorf("failed to create QR code: %w", err)
	}
	png, err := code.PNG(g.size)
	if err != nil {
		return nil, fmt.Errorf("failed to generate PNG: %w", err)
	}
	return png, nil
}

// Package captcha renders image captchas for the SMS send flow.
package captcha

import (
	"bytes"
	"fmt"

	"github.com/mojocn/base64Captcha"
)

const (
	defaultWidth    = 120
	defaultHeight   = 40
	defaultMaxSkew  = 0.7
	defaultDotCount = 60
)

// Image is a rendered captcha and the text it shows.
type Image struct {
	Answer string
	PNG    []byte
}

type Generator interface {
	Generate() (*Image, error)
}

// DigitGenerator draws distorted digit captchas.
type DigitGenerator struct {
	driver *base64Captcha.DriverDigit
}

func NewDigitGenerator(length int) *DigitGenerator {
	if length <= 0 {
		length = 4
	}
	return &DigitGenerator{
		driver: base64Captcha.NewDriverDigit(defaultHeight, defaultWidth, length, defaultMaxSkew, defaultDotCount),
	}
}

func (g *DigitGenerator) Generate() (*Image, error) {
	_, content, answer := g.driver.GenerateIdQuestionAnswer()

	item, err := g.driver.DrawCaptcha(content)
	if err != nil {
		return nil, fmt.Errorf("failed to draw captcha: %w", err)
	}

	var buf bytes.Buffer
	if _, err := item.WriteTo(&buf); err != nil {
		return nil, fmt.Errorf("failed to encode captcha: %w", err)
	}

	return &Image{Answer: answer, PNG: buf.Bytes()}, nil
}

package main

import (
	"errors"
	"fmt"
)

var (
	ErrInvalidCode          = errors.New("invalid stock code")
	ErrNoListing            = errors.New("no listing found")
	ErrPlaceholderPage      = errors.New("listing page has no data")
	ErrEmptyListing         = errors.New("no report entries on listing page")
	ErrNoDocumentLink       = errors.New("no document link")
	ErrMarketNotImplemented = errors.New("market not implemented")
	ErrStockNotFound        = errors.New("stock id not found")
	ErrPayloadTooSmall      = errors.New("downloaded file too small")
	ErrCorruptPDF           = errors.New("downloaded file is not a valid PDF")
)

func errUnexpectedStatus(code int) error {
	return fmt.Errorf("unexpected HTTP status %d", code)
}

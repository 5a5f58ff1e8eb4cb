package main

import (
	"fmt"

	"github.com/pkg/browser"
)

func openBrowser(url string) error {
	if err := browser.OpenURL(url); err != nil {
		return fmt.Errorf("failed to open %s: %w", url, err)
	}
	return nil
}

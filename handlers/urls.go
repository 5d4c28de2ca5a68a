package handlers

import (
	"fmt"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/johnwmail/npaste/config"
)

// baseURL returns the configured public URL, or one derived from the
// request when none is configured.
func baseURL(c *gin.Context, cfg *config.Config) string {
	if cfg.URL != "" {
		return cfg.URL
	}

	scheme := "http"
	if isHTTPS(c) {
		scheme = "https"
	}
	return fmt.Sprintf("%s://%s", scheme, c.Request.Host)
}

// shareURL is the human page link for a paste.
func shareURL(c *gin.Context, cfg *config.Config, id string) string {
	return baseURL(c, cfg) + "/p/" + id
}

// isHTTPS detects if the original request was HTTPS, even behind proxies
func isHTTPS(c *gin.Context) bool {
	// Direct TLS connection
	if c.Request.TLS != nil {
		return true
	}

	// Check common proxy headers for original protocol
	if proto := c.GetHeader("X-Forwarded-Proto"); proto == "https" {
		return true
	}
	if proto := c.GetHeader("X-Forwarded-Protocol"); proto == "https" {
		return true
	}
	if scheme := c.GetHeader("X-Forwarded-Scheme"); scheme == "https" {
		return true
	}
	if scheme := c.GetHeader("X-Scheme"); scheme == "https" {
		return true
	}
	if c.GetHeader("X-Forwarded-Ssl") == "on" {
		return true
	}

	// AWS Lambda Function URLs and CloudFront
	if c.GetHeader("CloudFront-Forwarded-Proto") == "https" {
		return true
	}

	return strings.EqualFold(c.GetHeader("Forwarded"), "proto=https")
}

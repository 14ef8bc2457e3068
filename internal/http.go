package app

import (
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"os"
	"strings"

	"github.com/gin-gonic/gin"
	qrcode "github.com/skip2/go-qrcode"

	"terminal-log-sync/internal/config"
	"terminal-log-sync/internal/routes"
)

const QR_IMAGE_SIZE = 512

func securityHeaders(c *gin.Context) {
	c.Header("X-Content-Type-Options", "nosniff")
	c.Header("X-Frame-Options", "DENY")
	c.Header("X-XSS-Protection", "1; mode=block")

	// Disable caching
	c.Header("Cache-Control", "no-store, no-cache, must-revalidate, proxy-revalidate")
	c.Header("Pragma", "no-cache")
	c.Header("Expires", "0")
	c.Next()
}

// Middleware to check if the IP is allowed.
func IPAccessControl(allowedCIDRs []string) gin.HandlerFunc {
	// Parse allowed CIDRs
	var parsedCIDRs []*net.IPNet

	// Allow local networks in debug mode
	if os.Getenv("GIN_MODE") != "release" {
		localhostCIDRs := []string{"127.0.0.1/8", "::1/128"}
		allowedCIDRs = append(allowedCIDRs, localhostCIDRs...)
	}

	for _, cidr := range allowedCIDRs {
		_, net, err := net.ParseCIDR(cidr)
		if err != nil {
			slog.Warn("Invalid CIDR", "cidr", cidr)
			continue
		}
		slog.Debug("Allowed CIDR", "cidr", cidr)
		parsedCIDRs = append(parsedCIDRs, net)
	}

	return func(c *gin.Context) {
		clientIP := net.ParseIP(c.ClientIP())
		if clientIP == nil {
			// Should not happen
			slog.Warn("Invalid client IP", "ip", c.ClientIP())
			c.AbortWithStatusJSON(http.StatusForbidden, gin.H{"error": "Forbidden"})
			return
		}

		for _, cidr := range parsedCIDRs {
			if cidr.Contains(clientIP) {
				c.Next()
				return
			}
		}
		slog.Warn("IP not allowed", "ip", clientIP)
		c.AbortWithStatusJSON(http.StatusForbidden, gin.H{"error": "Forbidden"})
	}
}

// HTTPServer builds the management API engine with the network allow list
// and security headers applied to every route.
func HTTPServer(deps *routes.Deps) *gin.Engine {
	r := gin.Default()

	var allowedCIDRs []string
	for cidr := range strings.SplitSeq(config.Cfg.AllowedNetworks, ",") {
		// Remove spaces and ignore empty sets
		if cidr := strings.TrimSpace(cidr); cidr != "" {
			allowedCIDRs = append(allowedCIDRs, cidr)
		}
	}

	r.Use(IPAccessControl(allowedCIDRs))
	r.Use(securityHeaders)

	// QR shortcut to the dashboard for posting next to the terminal.
	r.GET("/qr", func(c *gin.Context) {
		baseURL := config.Cfg.BaseURL
		if baseURL == "" {
			c.JSON(http.StatusNotFound, gin.H{"error": "base_url is not configured"})
			return
		}

		qr, err := qrcode.Encode(baseURL, qrcode.Medium, QR_IMAGE_SIZE)
		if err != nil {
			slog.Warn("Failed to generate QR code", "error", err)
			c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to generate QR code"})
			return
		}

		c.Header("Cache-Control", fmt.Sprintf("max-age=%d", 24*60*60))
		c.Data(http.StatusOK, "image/png", qr)
	})

	routes.RegisterRoutes(r, deps)

	return r
}

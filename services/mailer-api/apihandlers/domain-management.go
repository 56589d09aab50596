package apihandlers

import (
	"log/slog"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
)

func (h *HttpEndpoints) setupDomain(c *gin.Context) {
	domain := strings.ToLower(c.Param("domain"))
	config, err := h.signer.SetupDomain(domain)
	if err != nil {
		slog.Error("Failed to set up domain", slog.String("domain", domain), slog.String("error", err.Error()))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to set up domain"})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"domain":      config.Domain,
		"dkimRecord":  config.DKIMRecord,
		"spfRecord":   config.SPFRecord,
		"dmarcRecord": config.DMARCRecord,
		"selector":    config.DKIMSelector,
	})
}

func (h *HttpEndpoints) getDomainDNSRecords(c *gin.Context) {
	domain := strings.ToLower(c.Param("domain"))
	records, err := h.signer.DNSRecords(domain)
	if err != nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "domain not configured"})
		return
	}
	c.JSON(http.StatusOK, records)
}

func (h *HttpEndpoints) verifyDomain(c *gin.Context) {
	domain := strings.ToLower(c.Param("domain"))
	dkimOK, spfOK, dmarcOK, err := h.signer.VerifyDomain(domain)
	if err != nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "domain not configured"})
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"domain":        domain,
		"dkimVerified":  dkimOK,
		"spfVerified":   spfOK,
		"dmarcVerified": dmarcOK,
	})
}

package checker

import (
	"errors"
	"fmt"
	"math"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/khanhnv2901/secscan/internal/domain/finding"
	"github.com/khanhnv2901/secscan/internal/shared/constants"
)

// DecodedJWT holds the decoded, unverified JOSE header and claims.
type DecodedJWT struct {
	Header  map[string]any `json:"header" yaml:"header"`
	Payload map[string]any `json:"payload" yaml:"payload"`
}

// JWTAnalysis is the result of linting a token.
type JWTAnalysis struct {
	Success  bool              `json:"success" yaml:"success"`
	Decoded  *DecodedJWT       `json:"decoded,omitempty" yaml:"decoded,omitempty"`
	Findings []finding.Finding `json:"findings" yaml:"findings"`
	Error    string            `json:"error,omitempty" yaml:"error,omitempty"`
}

// AnalyzeJWT decodes a compact JWT without verifying its signature and
// reports weak algorithm and lifetime choices. It is deterministic for a
// fixed now and performs no I/O.
func AnalyzeJWT(token string, now time.Time) JWTAnalysis {
	token = strings.TrimSpace(token)
	if len(strings.Split(token, ".")) != 3 {
		return JWTAnalysis{
			Error: "Invalid JWT format - expected 3 parts",
			Findings: []finding.Finding{{
				Category:    finding.CategoryJWT,
				Severity:    finding.SeverityInfo,
				Title:       "Invalid JWT Format",
				Description: "Token does not have the expected header.payload.signature format",
			}},
		}
	}

	claims := jwt.MapClaims{}
	parsed, _, err := jwt.NewParser().ParseUnverified(token, claims)
	if err != nil && !errors.Is(err, jwt.ErrTokenUnverifiable) {
		return jwtDecodeError(err)
	}
	if parsed == nil {
		return jwtDecodeError(errors.New("token could not be decoded"))
	}
	alg, ok := parsed.Header["alg"].(string)
	if !ok {
		return jwtDecodeError(errors.New("token header has no alg"))
	}

	findings := []finding.Finding{}

	switch alg {
	case "none":
		findings = append(findings, finding.Finding{
			Category:       finding.CategoryJWT,
			Severity:       finding.SeverityCritical,
			Title:          `JWT Algorithm "none" Detected`,
			Description:    `Token uses "none" algorithm, making signature verification bypassable`,
			Recommendation: `Never accept tokens with "none" algorithm`,
			OWASPCategory:  "A02",
			CWEID:          "CWE-347",
		})
	case "HS256":
		findings = append(findings, finding.Finding{
			Category:       finding.CategoryJWT,
			Severity:       finding.SeverityLow,
			Title:          "Symmetric Algorithm Used",
			Description:    "HS256 is symmetric - consider RS256 for better security",
			Recommendation: "Consider using RS256 for production environments",
		})
	}

	if exp := numericClaim(claims.GetExpirationTime); exp == nil {
		findings = append(findings, finding.Finding{
			Category:       finding.CategoryJWT,
			Severity:       finding.SeverityHigh,
			Title:          "No Expiration Set",
			Description:    "JWT does not have an expiration time, tokens never expire",
			Recommendation: "Always set an expiration time for JWT tokens",
			OWASPCategory:  "A07",
			CWEID:          "CWE-613",
		})
	} else {
		if exp.Before(now) {
			findings = append(findings, finding.Finding{
				Category:    finding.CategoryJWT,
				Severity:    finding.SeverityInfo,
				Title:       "Token Expired",
				Description: "Token expired on " + exp.UTC().Format("2006-01-02T15:04:05.000Z07:00"),
			})
		}
		if remaining := exp.Sub(now); remaining > constants.JWTMaxLifetime {
			findings = append(findings, finding.Finding{
				Category:       finding.CategoryJWT,
				Severity:       finding.SeverityLow,
				Title:          "Long Token Lifetime",
				Description:    fmt.Sprintf("Token valid for %d hours", int64(math.Round(remaining.Hours()))),
				Recommendation: "Consider shorter token lifetimes (1-24 hours) with refresh tokens",
			})
		}
	}

	if iat := numericClaim(claims.GetIssuedAt); iat == nil {
		findings = append(findings, finding.Finding{
			Category:       finding.CategoryJWT,
			Severity:       finding.SeverityLow,
			Title:          "Missing Issued At (iat)",
			Description:    "Token does not have iat claim",
			Recommendation: "Include iat claim for token tracking",
		})
	}

	return JWTAnalysis{
		Success: true,
		Decoded: &DecodedJWT{
			Header:  parsed.Header,
			Payload: map[string]any(claims),
		},
		Findings: findings,
	}
}

// numericClaim returns the claim time, or nil when it is absent, zero or not
// a number.
func numericClaim(get func() (*jwt.NumericDate, error)) *time.Time {
	date, err := get()
	if err != nil || date == nil || date.Unix() == 0 {
		return nil
	}
	t := date.Time
	return &t
}

func jwtDecodeError(err error) JWTAnalysis {
	return JWTAnalysis{
		Error: err.Error(),
		Findings: []finding.Finding{{
			Category:    finding.CategoryJWT,
			Severity:    finding.SeverityInfo,
			Title:       "JWT Decode Error",
			Description: err.Error(),
		}},
	}
}

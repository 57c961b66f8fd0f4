// Package wallet authenticates Ethereum wallets against the chat service:
// sign a SIWE-style message with each private key and trade the signature
// for a session token.
package wallet

import (
	"context"
	"crypto/ecdsa"
	"encoding/hex"
	"fmt"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/accounts"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/go-resty/resty/v2"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/nebrix/klokpilot/internal/domain"
)

type Options struct {
	BaseURL      string
	Origin       string
	Referer      string
	ReferralCode string
}

// Authenticator converts wallet private keys to chat-service session tokens.
type Authenticator struct {
	opts   Options
	client *resty.Client
	log    *zap.Logger
	now    func() time.Time
}

func NewAuthenticator(opts Options, log *zap.Logger) *Authenticator {
	client := resty.New().
		SetBaseURL(strings.TrimRight(opts.BaseURL, "/")).
		SetTimeout(15 * time.Second).
		SetHeaders(map[string]string{
			"content-type": "application/json",
			"Origin":       opts.Origin,
			"Referer":      opts.Referer,
		})
	return &Authenticator{
		opts:   opts,
		client: client,
		log:    log,
		now:    time.Now,
	}
}

type verifyRequest struct {
	SigninMessage   string  `json:"signin_message"`
	SigninSignature string  `json:"signin_signature"`
	Referral        *string `json:"referral_code,omitempty"`
}

type verifyResponse struct {
	SessionToken string `json:"session_token"`
	Message      string `json:"message"`
}

// Authenticate signs the login message with one private key and exchanges it
// for a session token.
func (a *Authenticator) Authenticate(ctx context.Context, privateKeyHex string) (string, error) {
	key, err := crypto.HexToECDSA(strings.TrimPrefix(strings.TrimSpace(privateKeyHex), "0x"))
	if err != nil {
		return "", fmt.Errorf("parse private key: %w", err)
	}
	address := crypto.PubkeyToAddress(key.PublicKey).Hex()

	message := a.buildSigninMessage(address)
	signature, err := signPersonal(message, key)
	if err != nil {
		return "", fmt.Errorf("sign login message: %w", err)
	}

	req := verifyRequest{
		SigninMessage:   message,
		SigninSignature: signature,
	}
	if a.opts.ReferralCode != "" {
		req.Referral = &a.opts.ReferralCode
	}

	var body verifyResponse
	resp, err := a.client.R().
		SetContext(ctx).
		SetBody(req).
		SetResult(&body).
		Post("/verify")
	if err != nil {
		return "", fmt.Errorf("wallet verify: %w", err)
	}
	if resp.IsError() {
		respBody := resp.String()
		if len(respBody) > 200 {
			respBody = respBody[:200]
		}
		return "", &domain.StatusError{Code: resp.StatusCode(), Body: respBody}
	}
	if body.SessionToken == "" {
		return "", fmt.Errorf("wallet verify: no session token in response")
	}

	a.log.Info("wallet authenticated",
		zap.String("address", address),
		zap.String("token", domain.RedactToken(body.SessionToken)))
	return body.SessionToken, nil
}

// AuthenticateAll runs every key through Authenticate and collects the
// session tokens, continuing past individual failures.
func (a *Authenticator) AuthenticateAll(ctx context.Context, privateKeys []string) []string {
	tokens := make([]string, 0, len(privateKeys))
	for i, key := range privateKeys {
		token, err := a.Authenticate(ctx, key)
		if err != nil {
			a.log.Warn("wallet authentication failed",
				zap.Int("wallet", i+1),
				zap.Int("total", len(privateKeys)),
				zap.Error(err))
			continue
		}
		tokens = append(tokens, token)
	}
	return tokens
}

// buildSigninMessage follows the sign-in-with-Ethereum message layout the
// service expects.
func (a *Authenticator) buildSigninMessage(address string) string {
	domainName := strings.TrimPrefix(strings.TrimPrefix(a.opts.Origin, "https://"), "http://")
	nonce := strings.ReplaceAll(uuid.NewString(), "-", "")
	issuedAt := a.now().UTC().Format(time.RFC3339)
	return fmt.Sprintf(
		"%s wants you to sign in with your Ethereum account:\n%s\n\n\nURI: %s\nVersion: 1\nChain ID: 1\nNonce: %s\nIssued At: %s",
		domainName, address, a.opts.Origin, nonce, issuedAt,
	)
}

// signPersonal produces an EIP-191 personal_sign signature with the recovery
// byte shifted to the 27/28 convention.
func signPersonal(message string, key *ecdsa.PrivateKey) (string, error) {
	hash := accounts.TextHash([]byte(message))
	sig, err := crypto.Sign(hash, key)
	if err != nil {
		return "", err
	}
	sig[64] += 27
	return "0x" + hex.EncodeToString(sig), nil
}

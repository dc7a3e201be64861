// Package auth implements the pairing/PIN authentication state machine that
// protects remote access to the hub: pairing-code issuance and completion,
// PIN login with IP rate limiting, and bearer token minting/validation.
// Every table here is process-wide state, encapsulated behind this typed
// module so tests can build fresh instances instead of reaching into
// package-level globals.
package auth

import (
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"math/big"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/crypto/bcrypt"
)

const (
	// pairingTTL is how long a pairing request remains completable after
	// issuance. Expiry is checked lazily at consumption time; there is no
	// background sweep.
	pairingTTL = 300 * time.Second

	// rateLimitWindow is how long a PIN-login IP's failure count persists.
	rateLimitWindow = 900 * time.Second

	// maxFailedAttempts is the number of failed attempts allowed within
	// rateLimitWindow before the endpoint starts responding 429.
	maxFailedAttempts = 5
)

var (
	ErrPairingNotFound     = errors.New("auth: pairing request not found")
	ErrPairingExpired      = errors.New("auth: pairing code expired")
	ErrPairingCodeMismatch = errors.New("auth: pairing code mismatch")
	ErrRateLimited         = errors.New("auth: rate limited")
	ErrInvalidPIN          = errors.New("auth: invalid pin")
	ErrNoPINConfigured     = errors.New("auth: no pin configured")
	ErrInvalidToken        = errors.New("auth: invalid token")
)

// PairingRequest is an in-memory record of an issued-but-not-yet-completed
// pairing attempt.
type PairingRequest struct {
	ID         string
	Code       string
	CreatedAt  time.Time
	DeviceName string
}

// Device is a paired remote client, identified by its bearer token.
type Device struct {
	Token    string
	ID       string
	Name     string
	PairedAt time.Time
	LastSeen time.Time
}

// rateLimitEntry tracks one IP's failed-attempt count within the current
// window.
type rateLimitEntry struct {
	attempts    int
	windowStart time.Time
}

// Authenticator owns the pairing-requests table, paired-devices table, and
// PIN-rate-limit table. The pairing-requests and paired-devices maps are
// disjoint in key space (different id schemes) and each is guarded by its
// own lock, matching the concurrency contract the rest of the hub uses.
type Authenticator struct {
	pairingMu sync.Mutex
	pairing   map[string]PairingRequest

	deviceMu sync.Mutex
	devices  map[string]Device // token -> device

	rateMu sync.Mutex
	rate   map[string]rateLimitEntry // IP -> entry

	pinHash string // bcrypt hash; empty means no PIN configured

	now func() time.Time
}

// New returns an Authenticator seeded with any previously paired devices
// (typically loaded from the store at startup) and the configured PIN hash
// (empty if none).
func New(devices []Device, pinHash string) *Authenticator {
	a := &Authenticator{
		pairing: make(map[string]PairingRequest),
		devices: make(map[string]Device),
		rate:    make(map[string]rateLimitEntry),
		pinHash: pinHash,
		now:     time.Now,
	}
	for _, d := range devices {
		a.devices[d.Token] = d
	}
	return a
}

// RequestPairing issues a new pairing id and 6-digit code, valid for
// pairingTTL.
func (a *Authenticator) RequestPairing(deviceName string) (PairingRequest, error) {
	id := uuid.NewString()
	code, err := randomDigitCode(6)
	if err != nil {
		return PairingRequest{}, err
	}
	req := PairingRequest{ID: id, Code: code, CreatedAt: a.now(), DeviceName: deviceName}

	a.pairingMu.Lock()
	a.pairing[id] = req
	a.pairingMu.Unlock()
	return req, nil
}

// CompletePairing validates a pairing attempt and, on success, mints and
// persists a new bearer token, removing the consumed pairing request.
func (a *Authenticator) CompletePairing(pairingID, code, deviceName string) (Device, error) {
	a.pairingMu.Lock()
	req, ok := a.pairing[pairingID]
	if ok {
		delete(a.pairing, pairingID) // single-use regardless of outcome
	}
	a.pairingMu.Unlock()

	if !ok {
		return Device{}, ErrPairingNotFound
	}
	if a.now().Sub(req.CreatedAt) >= pairingTTL {
		return Device{}, ErrPairingExpired
	}
	if req.Code != code {
		return Device{}, ErrPairingCodeMismatch
	}

	name := deviceName
	if name == "" {
		name = req.DeviceName
	}
	return a.mintDevice(name)
}

// PINConfigured reports whether a PIN has been set up.
func (a *Authenticator) PINConfigured() bool {
	return a.pinHash != ""
}

// SetPINHash installs a new bcrypt PIN hash (or clears it, with "").
func (a *Authenticator) SetPINHash(hash string) {
	a.pinHash = hash
}

// HashPIN bcrypt-hashes a plaintext PIN for storage.
func HashPIN(pin string) (string, error) {
	hash, err := bcrypt.GenerateFromPassword([]byte(pin), bcrypt.DefaultCost)
	if err != nil {
		return "", err
	}
	return string(hash), nil
}

// PINLogin authenticates against the configured PIN, subject to IP rate
// limiting: 5 failed attempts within 900s from one IP trips ErrRateLimited
// for the remainder of the window; a success resets that IP's counter.
func (a *Authenticator) PINLogin(ip, pin, deviceName string) (Device, error) {
	if limited, retryAfter := a.isRateLimited(ip); limited {
		return Device{}, fmt.Errorf("%w: retry after %s", ErrRateLimited, retryAfter.Round(time.Second))
	}
	if a.pinHash == "" {
		return Device{}, ErrNoPINConfigured
	}
	if bcrypt.CompareHashAndPassword([]byte(a.pinHash), []byte(pin)) != nil {
		a.recordFailure(ip)
		return Device{}, ErrInvalidPIN
	}
	a.clearFailures(ip)
	return a.mintDevice(deviceName)
}

// isRateLimited reports whether ip currently has 5+ failures within a
// still-live window, and how long until the window resets.
func (a *Authenticator) isRateLimited(ip string) (bool, time.Duration) {
	a.rateMu.Lock()
	defer a.rateMu.Unlock()

	entry, ok := a.rate[ip]
	if !ok {
		return false, 0
	}
	elapsed := a.now().Sub(entry.windowStart)
	if elapsed >= rateLimitWindow {
		delete(a.rate, ip)
		return false, 0
	}
	if entry.attempts >= maxFailedAttempts {
		return true, rateLimitWindow - elapsed
	}
	return false, 0
}

func (a *Authenticator) recordFailure(ip string) {
	a.rateMu.Lock()
	defer a.rateMu.Unlock()

	entry, ok := a.rate[ip]
	now := a.now()
	if !ok || now.Sub(entry.windowStart) >= rateLimitWindow {
		entry = rateLimitEntry{attempts: 0, windowStart: now}
	}
	entry.attempts++
	a.rate[ip] = entry
}

func (a *Authenticator) clearFailures(ip string) {
	a.rateMu.Lock()
	defer a.rateMu.Unlock()
	delete(a.rate, ip)
}

func (a *Authenticator) mintDevice(name string) (Device, error) {
	token, err := randomHex(32)
	if err != nil {
		return Device{}, err
	}
	deviceID := uuid.NewString()
	now := a.now()
	d := Device{Token: token, ID: deviceID, Name: name, PairedAt: now, LastSeen: now}

	a.deviceMu.Lock()
	a.devices[token] = d
	a.deviceMu.Unlock()
	return d, nil
}

// Check reports whether a request is authorized: per spec, when no devices
// are paired every request is authorized (first-time setup window);
// otherwise a valid bearer token is required.
func (a *Authenticator) Check(token string) (bool, string) {
	a.deviceMu.Lock()
	count := len(a.devices)
	_, hasToken := a.devices[token]
	a.deviceMu.Unlock()

	if count == 0 {
		return true, "no devices paired yet"
	}
	if token == "" {
		return false, "missing token"
	}
	if !hasToken {
		return false, "invalid token"
	}
	return true, ""
}

// Authorize validates token against the paired-devices table, touching
// LastSeen on success. Returns ErrInvalidToken when the table is non-empty
// and the token doesn't match, matching Check's semantics for use as
// middleware.
func (a *Authenticator) Authorize(token string) (Device, error) {
	a.deviceMu.Lock()
	defer a.deviceMu.Unlock()

	if len(a.devices) == 0 {
		return Device{}, nil
	}
	d, ok := a.devices[token]
	if !ok {
		return Device{}, ErrInvalidToken
	}
	d.LastSeen = a.now()
	a.devices[token] = d
	return d, nil
}

// RevokeDevice deletes a paired device's token.
func (a *Authenticator) RevokeDevice(token string) {
	a.deviceMu.Lock()
	delete(a.devices, token)
	a.deviceMu.Unlock()
}

// DeviceCount reports how many devices are currently paired.
func (a *Authenticator) DeviceCount() int {
	a.deviceMu.Lock()
	defer a.deviceMu.Unlock()
	return len(a.devices)
}

func randomHex(n int) (string, error) {
	buf := make([]byte, n)
	if _, err := rand.Read(buf); err != nil {
		return "", err
	}
	return hex.EncodeToString(buf), nil
}

func randomDigitCode(digits int) (string, error) {
	ceiling := int64(1)
	for i := 0; i < digits; i++ {
		ceiling *= 10
	}
	n, err := rand.Int(rand.Reader, big.NewInt(ceiling))
	if err != nil {
		return "", err
	}
	return fmt.Sprintf("%0*d", digits, n.Int64()), nil
}

package fcm

import (
	"bytes"
	"context"
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"

	"google.golang.org/protobuf/encoding/protowire"
)

// gcmCheckinURL and gcmRegisterURL are package-level vars so tests can override them.
var (
	gcmCheckinURL  = "https://android.clients.google.com/checkin"
	gcmRegisterURL = "https://android.clients.google.com/c2dm/register3"
)

// deviceTypeAndroidOS is AndroidCheckinProto.type DEVICE_ANDROID_OS.
const deviceTypeAndroidOS = 1

// ErrNoSender is returned by Register when no sender id is configured.
var ErrNoSender = errors.New("fcm: no sender id configured")

// Registration identifies the application a push token is requested for.
type Registration struct {
	// SenderID is the project number messages are sent from.
	SenderID string `json:"senderId"`

	// AppPackage is the Android package name the token is bound to.
	AppPackage string `json:"appPackage"`

	// CertSHA1 is the lowercase hex SHA-1 of the app signing certificate.
	CertSHA1 string `json:"certSha1,omitempty"`

	// AppVersion is the version code reported to GCM.
	AppVersion string `json:"appVersion,omitempty"`
}

// checkinRequest builds an AndroidCheckinRequest. A non-zero androidID makes
// it a re-checkin with existing credentials.
func checkinRequest(androidID, securityToken uint64, device AndroidDeviceInfo) []byte {
	var build []byte
	build = appendString(build, 1, device.BuildFingerprint)
	build = appendString(build, 2, device.Product)
	build = appendString(build, 4, device.Radio)
	build = appendString(build, 5, device.Bootloader)
	build = appendString(build, 6, "android-google")
	build = appendVarint(build, 7, uint64(device.BuildTime))
	build = appendVarint(build, 8, uint64(device.GMSVersion))
	build = appendString(build, 9, device.Device)
	build = appendVarint(build, 10, uint64(device.SDKVersion))
	build = appendString(build, 11, device.Model)
	build = appendString(build, 12, device.Manufacturer)
	build = appendString(build, 13, device.Product)
	build = appendBool(build, 14, false)

	var checkin []byte
	checkin = appendMessage(checkin, 1, build)
	checkin = appendVarint(checkin, 12, deviceTypeAndroidOS)

	var req []byte
	if androidID != 0 {
		req = appendVarint(req, 2, androidID)
	}
	req = appendMessage(req, 4, checkin)
	req = appendString(req, 6, "en_US")
	req = appendString(req, 12, "UTC")
	if androidID != 0 {
		req = appendFixed64(req, 13, securityToken)
	}
	req = appendVarint(req, 14, 3)
	req = appendVarint(req, 20, 0)
	req = appendVarint(req, 22, 0)
	return req
}

// parseCheckinResponse extracts android_id and security_token from an
// AndroidCheckinResponse.
func parseCheckinResponse(b []byte) (androidID, securityToken uint64, err error) {
	err = rangeFields(b, func(num protowire.Number, f field) error {
		switch num {
		case 7:
			androidID = f.varint
		case 8:
			securityToken = f.varint
		}
		return nil
	})
	if err != nil {
		return 0, 0, err
	}
	if androidID == 0 || securityToken == 0 {
		return 0, 0, fmt.Errorf("response carries no device credentials")
	}
	return androidID, securityToken, nil
}

// gcmCheckin performs an Android GCM checkin and returns the device credentials.
func gcmCheckin(ctx context.Context, httpClient *http.Client, androidID, securityToken uint64, device AndroidDeviceInfo) (uint64, uint64, error) {
	body := checkinRequest(androidID, securityToken, device)

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, gcmCheckinURL, bytes.NewReader(body))
	if err != nil {
		return 0, 0, fmt.Errorf("gcm checkin: create request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/x-protobuf")

	resp, err := httpClient.Do(httpReq)
	if err != nil {
		return 0, 0, fmt.Errorf("gcm checkin: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return 0, 0, fmt.Errorf("gcm checkin: read response: %w", err)
	}

	if resp.StatusCode != http.StatusOK {
		return 0, 0, fmt.Errorf("gcm checkin: HTTP %d: %s", resp.StatusCode, string(respBody))
	}

	id, token, err := parseCheckinResponse(respBody)
	if err != nil {
		return 0, 0, fmt.Errorf("gcm checkin: %w", err)
	}
	return id, token, nil
}

// generateInstanceID returns an 11-character hex instance id.
func generateInstanceID() (string, error) {
	b := make([]byte, 6)
	if _, err := rand.Read(b); err != nil {
		return "", fmt.Errorf("generate instance ID: %w", err)
	}
	return hex.EncodeToString(b)[:11], nil
}

// gcmRegister requests a push token for reg from the c2dm/register3 endpoint.
func gcmRegister(ctx context.Context, httpClient *http.Client, androidID, securityToken uint64, reg Registration, device AndroidDeviceInfo) (string, error) {
	instanceID, err := generateInstanceID()
	if err != nil {
		return "", err
	}

	appVersion := reg.AppVersion
	if appVersion == "" {
		appVersion = "1"
	}

	form := url.Values{
		"app":     {reg.AppPackage},
		"sender":  {reg.SenderID},
		"device":  {strconv.FormatUint(androidID, 10)},
		"app_ver": {appVersion},
		"gcm_ver": {strconv.Itoa(device.GMSVersion)},
		"X-scope": {"GCM"},
		"X-appid": {instanceID},
		"X-osv":   {strconv.Itoa(device.SDKVersion)},
		"X-gmsv":  {strconv.Itoa(device.GMSVersion)},
		"X-cliv":  {"iid-" + device.IIDVersion},
	}
	if reg.CertSHA1 != "" {
		form.Set("cert", reg.CertSHA1)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, gcmRegisterURL, strings.NewReader(form.Encode()))
	if err != nil {
		return "", fmt.Errorf("gcm register: create request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	httpReq.Header.Set("Authorization", fmt.Sprintf("AidLogin %d:%d", androidID, securityToken))
	httpReq.Header.Set("User-Agent", fmt.Sprintf("Android-GCM/1.5 (%s %s)", device.Device, device.Model))
	httpReq.Header.Set("app", reg.AppPackage)

	resp, err := httpClient.Do(httpReq)
	if err != nil {
		return "", fmt.Errorf("gcm register: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", fmt.Errorf("gcm register: read response: %w", err)
	}

	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("gcm register: HTTP %d: %s", resp.StatusCode, string(respBody))
	}

	body := string(respBody)
	if token, found := strings.CutPrefix(body, "token="); found {
		return strings.TrimSpace(token), nil
	}

	return "", fmt.Errorf("gcm register: unexpected response: %s", body)
}

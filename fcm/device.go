package fcm

// AndroidDeviceInfo describes the device presented during GCM checkin and
// registration.
type AndroidDeviceInfo struct {
	// BuildFingerprint is the Android build fingerprint
	// Format: brand/product/device:version/build_id/build_number:user/release-keys
	BuildFingerprint string

	// SDKVersion is the Android SDK version (e.g., 33 for Android 13)
	SDKVersion int

	// GMSVersion is the Google Play Services version
	GMSVersion int

	// Device is the device codename (e.g., "panther" for Pixel 7)
	Device string

	// Model is the device model name (e.g., "Pixel 7")
	Model string

	Manufacturer string
	Product      string
	Bootloader   string
	Radio        string

	// BuildTime is Build.TIME in seconds since epoch
	BuildTime int64

	// IIDVersion is reported as the instance ID client version.
	IIDVersion string
}

// DefaultAndroidDevice returns a Pixel 7 on Android 13.
func DefaultAndroidDevice() AndroidDeviceInfo {
	return AndroidDeviceInfo{
		BuildFingerprint: "google/panther/panther:13/TQ3A.230805.001/10316531:user/release-keys",
		SDKVersion:       33,
		GMSVersion:       241516037,
		Device:           "panther",
		Model:            "Pixel 7",
		Manufacturer:     "Google",
		Product:          "panther",
		Bootloader:       "slider-1.2-9819352",
		Radio:            "g5300g-230511-230925-B-10484716",
		BuildTime:        1691193600,
		IIDVersion:       "17.0.0",
	}
}

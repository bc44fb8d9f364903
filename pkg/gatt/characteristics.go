package gatt

// GATT endpoints fixed by the Tile hardware protocol.
const (
	// ServiceTile is the primary Tile service UUID.
	ServiceTile = "0000feed-0000-1000-8000-00805f9b34fb"

	// CharDeviceInfo is the TDI characteristic. Reading it returns the
	// tile ID, model, and firmware version.
	CharDeviceInfo = "9d410001-35d6-f4dd-ba60-e7bd8dc491c0"

	// CharToaCommand is the TOA command characteristic (write). Carries
	// the RandA nonce during the handshake and signed frames afterwards.
	CharToaCommand = "9d410018-35d6-f4dd-ba60-e7bd8dc491c0"

	// CharToaResponse is the TOA response characteristic (notify). Carries
	// the RandT nonce during the handshake and signed frames afterwards.
	CharToaResponse = "9d410019-35d6-f4dd-ba60-e7bd8dc491c0"
)

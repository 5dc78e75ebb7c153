package attribution

// Version is reported to the API as sdk_version.
const Version = "1.0.0"

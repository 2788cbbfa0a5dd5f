package settings

// DB config keys for runtime abuse thresholds. Each overrides the matching YAML value when set.
const (
	// IVRMaxCallsKey caps calls per phone within the rate window.
	IVRMaxCallsKey = "IVR_MAX_CALLS"
	// IVRRateWindowMinutesKey is the rate window length in minutes.
	IVRRateWindowMinutesKey = "IVR_RATE_WINDOW_MINUTES"
	// IVRMaxPhoneRetriesKey caps phone-format retries per call.
	IVRMaxPhoneRetriesKey = "IVR_MAX_PHONE_RETRIES"
	// IVRMaxSecurityRetriesKey caps caller-id mismatch retries per call.
	IVRMaxSecurityRetriesKey = "IVR_MAX_SECURITY_RETRIES"
	// AdminMaxLoginFailuresKey caps failed admin logins per source address.
	AdminMaxLoginFailuresKey = "ADMIN_MAX_LOGIN_FAILURES"
	// ActivityRetentionDaysKey is how long gift_activity rows are kept.
	ActivityRetentionDaysKey = "ACTIVITY_RETENTION_DAYS"
)

// DefaultActivityRetentionDays applies when ActivityRetentionDaysKey is unset.
const DefaultActivityRetentionDays = 180

// KnownKeys lists the keys an administrator may write.
var KnownKeys = []string{
	IVRMaxCallsKey,
	IVRRateWindowMinutesKey,
	IVRMaxPhoneRetriesKey,
	IVRMaxSecurityRetriesKey,
	AdminMaxLoginFailuresKey,
	ActivityRetentionDaysKey,
}

// IsKnownKey reports whether key is an administrator-writable setting.
func IsKnownKey(key string) bool {
	for _, k := range KnownKeys {
		if k == key {
			return true
		}
	}
	return false
}

package services

import (
	"strings"
	"testing"
	"time"

	"github.com/dynamicruntime/dnclient/core"
)

func TestParseUserAgentShouldDecodeMicroFormat(t *testing.T) {
	record, err := ParseUserAgent(
		"2026-01-02T03:04:05Z#2026-02-03T04:05:06Z@Mozilla/5.0 (Windows NT 10.0)")
	if err != nil {
		t.Fatalf("ParseUserAgent failed: %v", err)
	}
	if record.FirstSeen.Format(time.RFC3339) != "2026-01-02T03:04:05Z" {
		t.Errorf("FirstSeen = %v", record.FirstSeen)
	}
	if record.LastSeen.Format(time.RFC3339) != "2026-02-03T04:05:06Z" {
		t.Errorf("LastSeen = %v", record.LastSeen)
	}
	if record.UserAgent != "Mozilla/5.0 (Windows NT 10.0)" {
		t.Errorf("UserAgent = %q", record.UserAgent)
	}
}

// Requirement: a missing delimiter or unparseable timestamp is an explicit
// error, never a zero-value record.
func TestParseUserAgentShouldRejectMalformedEntries(t *testing.T) {
	tests := []struct {
		name string
		raw  string
		want string
	}{
		{"no at delimiter", "2026-01-02T03:04:05Z#2026-01-02T03:04:05Z", "no '@' delimiter"},
		{"no hash delimiter", "2026-01-02T03:04:05Z@agent", "no '#' delimiter"},
		{"bad first time", "garbage#2026-01-02T03:04:05Z@agent", "first seen"},
		{"bad last time", "2026-01-02T03:04:05Z#garbage@agent", "last seen"},
	}

	for _, test := range tests {
		t.Run(test.name, func(t *testing.T) {
			_, err := ParseUserAgent(test.raw)
			if err == nil || !strings.Contains(err.Error(), test.want) {
				t.Fatalf("ParseUserAgent(%q) error = %v, want %q", test.raw, err, test.want)
			}
		})
	}
}

func TestParseUserAgentShouldAcceptBackendTimeLayouts(t *testing.T) {
	// The backend has emitted fractional seconds and zone-less timestamps.
	for _, raw := range []string{
		"2026-01-02T03:04:05.123456Z#2026-01-02T03:04:05.123456Z@agent",
		"2026-01-02T03:04:05#2026-01-02T03:04:05@agent",
	} {
		if _, err := ParseUserAgent(raw); err != nil {
			t.Errorf("ParseUserAgent(%q) failed: %v", raw, err)
		}
	}
}

// Requirement: the platform keywords are checked in order, so an Android
// agent (which also says Linux) reads as Android.
func TestExtractMachineName(t *testing.T) {
	tests := []struct {
		userAgent string
		want      string
	}{
		{"Mozilla/5.0 (Windows NT 10.0; Win64)", "Windows"},
		{"Mozilla/5.0 (iPhone; CPU iPhone OS 17_0)", "iPhone"},
		{"Mozilla/5.0 (Linux; Android 14; Pixel)", "Android"},
		{"Mozilla/5.0 (X11; Linux x86_64)", "Linux"},
		{"Mozilla/5.0 (X11; CrOS x86_64)", "Chrome OS"},
		{"Mozilla/5.0 (Macintosh; Intel Mac OS X)", "Mac"},
		{"Mozilla/5.0 (BeOS R5)", "BeOS R5"},
		{"curl/8.0", "Unknown OS"},
		{"(leading paren", "Unknown OS"},
	}

	for _, test := range tests {
		if got := ExtractMachineName(test.userAgent); got != test.want {
			t.Errorf("ExtractMachineName(%q) = %q, want %q", test.userAgent, got, test.want)
		}
	}
}

func TestFormatGeoLocationShouldRenderCityStateCountry(t *testing.T) {
	got := FormatGeoLocation([]string{"US", "Oregon", "Portland", "97201"})
	if got != "Portland, Oregon, US" {
		t.Errorf("FormatGeoLocation() = %q", got)
	}
	if got := FormatGeoLocation([]string{"US"}); got != "Location Unavailable" {
		t.Errorf("short location = %q", got)
	}
	if got := FormatGeoLocation(nil); got != "Location Unavailable" {
		t.Errorf("nil location = %q", got)
	}
}

// Requirement: sources group by IP and coarse machine name keeping the most
// recent login per machine; groups order by recency with machine-less groups
// last, and malformed entries are skipped rather than blanking the view.
func TestExtractSources(t *testing.T) {
	sources := core.LoginSources{
		CapturedIPs: []core.CapturedIP{
			{
				IPAddress:   "10.0.0.3",
				GeoLocation: []string{"US", "Oregon", "Portland"},
				UserAgents: []string{
					// Two Windows sightings fold into the most recent one.
					"2026-01-01T00:00:00Z#2026-01-05T00:00:00Z@Mozilla/5.0 (Windows NT 10.0)",
					"2026-01-01T00:00:00Z#2026-01-09T00:00:00Z@Mozilla/5.0 (Windows NT 11.0)",
					"2026-01-01T00:00:00Z#2026-01-02T00:00:00Z@Mozilla/5.0 (X11; Linux x86_64)",
					"malformed entry",
				},
			},
			{
				IPAddress: "10.0.0.1",
				UserAgents: []string{
					"2026-01-01T00:00:00Z#2026-02-01T00:00:00Z@Mozilla/5.0 (Macintosh; Intel Mac OS X)",
				},
			},
			{
				IPAddress:  "10.0.0.2",
				UserAgents: []string{"malformed entry"},
			},
		},
	}

	groups := ExtractSources(sources)

	if len(groups) != 3 {
		t.Fatalf("len(groups) = %d, want 3", len(groups))
	}
	// Most recent activity first, the machine-less group last.
	if groups[0].IP != "10.0.0.1" || groups[1].IP != "10.0.0.3" || groups[2].IP != "10.0.0.2" {
		t.Fatalf("group order = %s, %s, %s", groups[0].IP, groups[1].IP, groups[2].IP)
	}

	if groups[0].GeoLocation != "Location Unavailable" {
		t.Errorf("GeoLocation = %q", groups[0].GeoLocation)
	}
	if groups[1].GeoLocation != "Portland, Oregon, US" {
		t.Errorf("GeoLocation = %q", groups[1].GeoLocation)
	}

	machines := groups[1].Machines
	if len(machines) != 2 || machines[0].MachineName != "Windows" || machines[1].MachineName != "Linux" {
		t.Fatalf("machines = %+v", machines)
	}
	if !machines[0].LastLogin.Equal(time.Date(2026, 1, 9, 0, 0, 0, 0, time.UTC)) {
		t.Errorf("Windows LastLogin = %v, want the later sighting", machines[0].LastLogin)
	}

	if len(groups[2].Machines) != 0 {
		t.Errorf("malformed-only group should have no machines: %+v", groups[2].Machines)
	}
}

func TestMachineLoginDescribeShouldHumanizeRecency(t *testing.T) {
	m := MachineLogin{MachineName: "Windows", LastLogin: time.Now().Add(-72 * time.Hour)}
	got := m.Describe()
	if !strings.HasPrefix(got, "Windows (") || !strings.Contains(got, "ago)") {
		t.Errorf("Describe() = %q", got)
	}
}

package blob

import "testing"

func TestSafeKey_JoinsParts(t *testing.T) {
	key, err := SafeKey("user-1", "asset-1")
	if err != nil {
		t.Fatalf("SafeKey() failed: %v", err)
	}
	if key != "user-1/asset-1" {
		t.Errorf("Key mismatch: got %q, want %q", key, "user-1/asset-1")
	}

	key, err = SafeKey("user-1", "asset-1.thumb")
	if err != nil {
		t.Fatalf("SafeKey() failed: %v", err)
	}
	if key != "user-1/asset-1.thumb" {
		t.Errorf("Key mismatch: got %q", key)
	}
}

func TestSafeKey_RejectsUnsafeParts(t *testing.T) {
	testCases := []struct {
		name  string
		parts []string
	}{
		{"empty part", []string{"user-1", ""}},
		{"single dot", []string{"user-1", "."}},
		{"parent dir", []string{"user-1", ".."}},
		{"embedded slash", []string{"user-1", "a/b"}},
		{"traversal", []string{"user-1", "../other-user"}},
		{"absolute", []string{"/etc", "passwd"}},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			if _, err := SafeKey(tc.parts...); err == nil {
				t.Errorf("SafeKey(%v) should be rejected", tc.parts)
			}
		})
	}
}

package cmd

import "testing"

func TestRemoteAccessFromEnvRequiresURL(t *testing.T) {
	if _, ok := remoteAccessFromEnv(); ok {
		t.Fatal("expected no access without OMNI_REMOTE_CACHE_URL set")
	}
}

func TestRemoteAccessFromEnvReadsAllFields(t *testing.T) {
	t.Setenv("OMNI_REMOTE_CACHE_URL", "https://cache.example.com")
	t.Setenv("OMNI_REMOTE_CACHE_API_KEY", "key123")
	t.Setenv("OMNI_REMOTE_CACHE_TENANT", "tenant1")
	t.Setenv("OMNI_REMOTE_CACHE_ORG", "org1")
	t.Setenv("OMNI_REMOTE_CACHE_WORKSPACE", "ws1")
	t.Setenv("OMNI_ENV", "prod")

	access, ok := remoteAccessFromEnv()
	if !ok {
		t.Fatal("expected access to be configured")
	}
	if access.BaseURL != "https://cache.example.com" || access.APIKey != "key123" ||
		access.Tenant != "tenant1" || access.Org != "org1" ||
		access.Workspace != "ws1" || access.Env != "prod" {
		t.Fatalf("unexpected access: %+v", access)
	}
}

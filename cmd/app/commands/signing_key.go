package commands

import (
	"context"
	"crypto/rand"
	"encoding/base64"
	"fmt"
	"io"

	capService "github.com/allisson/capsec/internal/capability/service"
)

// RunGenerateSigningKey generates a cryptographically secure 32-byte signing root key.
// The key signs every capability the service issues; key material is zeroed from
// memory after encoding.
//
// When kmsKeyURI is empty the key is printed base64-encoded for direct use in
// SIGNING_KEY. When set, the key is wrapped with the KMS key first and the
// ciphertext is printed instead, together with the KMS_KEY_URI to unwrap it at
// startup. For local development use kmsKeyURI="base64key://<32-byte-base64-key>".
//
// Security: never run production with an unwrapped SIGNING_KEY. Use cloud KMS
// key URIs (gcpkms://, awskms://, azurekeyvault://, hashivault://).
func RunGenerateSigningKey(kmsKeyURI string, w io.Writer) error {
	ctx := context.Background()

	// Generate a cryptographically secure 32-byte signing key
	signingKey := make([]byte, 32)
	if _, err := rand.Read(signingKey); err != nil {
		return fmt.Errorf("failed to generate signing key: %w", err)
	}
	defer func() {
		for i := range signingKey {
			signingKey[i] = 0
		}
	}()

	if kmsKeyURI == "" {
		fmt.Fprintln(w, "# Signing Key Configuration (plaintext mode)")
		fmt.Fprintln(w, "# Copy this environment variable to your .env file or secrets manager")
		fmt.Fprintln(w, "# For production, re-run with --kms-key-uri to wrap the key with a KMS")
		fmt.Fprintln(w)
		fmt.Fprintf(w, "SIGNING_KEY=\"%s\"\n", base64.StdEncoding.EncodeToString(signingKey))
		return nil
	}

	// Create KMS service and open keeper
	kmsService := capService.NewKMSService()
	keeperInterface, err := kmsService.OpenKeeper(ctx, kmsKeyURI)
	if err != nil {
		return fmt.Errorf("failed to open KMS keeper: %w", err)
	}
	defer func() {
		if closeErr := keeperInterface.Close(); closeErr != nil {
			fmt.Fprintf(w, "# Warning: failed to close KMS keeper: %v\n", closeErr)
		}
	}()

	// Type assert to get Encrypt method (only decryption is needed at runtime)
	keeper, ok := keeperInterface.(interface {
		Encrypt(ctx context.Context, plaintext []byte) ([]byte, error)
	})
	if !ok {
		return fmt.Errorf("KMS keeper does not support encryption")
	}

	ciphertext, err := keeper.Encrypt(ctx, signingKey)
	if err != nil {
		return fmt.Errorf("failed to encrypt signing key with KMS: %w", err)
	}

	fmt.Fprintln(w, "# Signing Key Configuration (KMS mode)")
	fmt.Fprintln(w, "# Copy these environment variables to your .env file or secrets manager")
	fmt.Fprintln(w)
	fmt.Fprintf(w, "KMS_KEY_URI=\"%s\"\n", kmsKeyURI)
	fmt.Fprintf(w, "SIGNING_KEY=\"%s\"\n", base64.StdEncoding.EncodeToString(ciphertext))
	return nil
}

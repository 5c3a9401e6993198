// Package secure keeps signing credentials out of ordinary heap memory.
//
// The Azure client secret given on the command line (or read from the OS
// keyring) is moved into a memguard enclave as soon as flags are parsed and
// only decrypted for the moment the Azure identity client is constructed:
//
//	buf := secure.FromString(secret)
//	defer buf.Destroy()
//
//	plaintext, err := buf.Reveal()
//	if err != nil {
//	    return err
//	}
//	cred, err := azidentity.NewClientSecretCredential(tenant, client, plaintext, nil)
//
// Enclaves are encrypted with XSalsa20Poly1305 and the decrypted LockedBuffer
// is mlocked with guard pages. If mlock is unavailable (RLIMIT_MEMLOCK) memguard
// degrades to ordinary allocation.
//
// main defers memguard.Purge so every enclave key is wiped on exit, including
// exits caused by a signal.
package secure

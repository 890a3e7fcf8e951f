// Package certs provisions the local TLS identity.
//
// A Provisioner keeps a self-signed CA and a server leaf issued by it in an
// ordered list of CertStores (machine scope first, then user scope). Missing
// or nearly expired identities are generated and persisted, the CA is added
// to the root store, and certificates with legacy names are pruned.
//
// Stores are directories of PEM files (FileStore) or in-memory maps
// (MemoryStore). Each identity is stored under its SHA-1 thumbprint:
//
//	<dir>/my/<THUMBPRINT>.crt
//	<dir>/my/<THUMBPRINT>.key   (PKCS#8, mode 0600)
//	<dir>/root/<THUMBPRINT>.crt
package certs

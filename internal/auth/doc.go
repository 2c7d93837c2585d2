// Package auth validates the identity tokens minted by the platform's
// identity provider. The user ID in a verified token is trusted for the
// lifetime of the connection that presented it.
package auth

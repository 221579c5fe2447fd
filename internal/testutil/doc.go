// Package testutil contains helper builders and fakes used across tests to
// reduce boilerplate when constructing activities and driving turns through
// scripted collaborators (reply sender, remote transport, identity provider).
// They are not intended for production usage.
package testutil

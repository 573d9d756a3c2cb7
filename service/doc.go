// Package service defines the collaborators the resolver and engine consume.
// Following Go's philosophy of small interfaces, each interface has 1-2
// methods; combined interfaces name the common pairings.
package service

package model

import "time"

// Origin records how an identity token was produced. Tokens from the
// fingerprint tier are weaker than minted ones: two machines with identical
// environment attributes can collide.
type Origin string

const (
	OriginPlatform    Origin = "platform"
	OriginLocal       Origin = "local"
	OriginFingerprint Origin = "fingerprint"
)

// Identity is the resolved (id, name, origin) tuple for one client
// installation. ID is immutable for the lifetime of the identity and is used
// as a path segment in directory and chat routes. NameChosen distinguishes a
// user-picked DisplayName from the derived placeholder, even when the two
// strings happen to be equal.
type Identity struct {
	ID          string
	DisplayName string
	NameChosen  bool
	Origin      Origin
}

// PresenceRecord is the remote-visible state kept per identity in the
// directory. LastSeen is always assigned by the database, never by a client
// clock.
type PresenceRecord struct {
	ID          string    `json:"id"`
	DisplayName string    `json:"name"`
	Online      bool      `json:"online"`
	LastSeen    time.Time `json:"lastSeen"`
	CreatedAt   time.Time `json:"createdAt"`
}

type Message struct {
	ID        string    `json:"id"`
	ChatID    string    `json:"chatId"`
	From      string    `json:"from"`
	To        string    `json:"to"`
	Text      string    `json:"text,omitempty"`
	ImageURL  string    `json:"image,omitempty"`
	CreatedAt time.Time `json:"timestamp"`
}

package models

// Contact is an emergency service entry in the contact directory.
type Contact struct {
	ID      int64  `json:"id"`
	Name    string `json:"name"`
	Number  string `json:"number"`
	Address string `json:"address"`
	Type    string `json:"type"`
}

// Package contact manages the local contact book.
//
// Contacts are added by public ID, usually pasted or scanned from the
// other user's screen. IDs are normalized to lowercase before validation.
// Removing a contact deletes the whole conversation with it, including
// attachments and undelivered messages.
//
//	book := contact.NewBook(store, selfID)
//	c, err := book.Add(ctx, peerID, "")
//	if err != nil {
//	    return err
//	}
//	fmt.Println(c.DisplayName) // "User 3f9a01bc"
package contact

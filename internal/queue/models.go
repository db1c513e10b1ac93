package queue

// Message is the snapshot of one MailQueue row returned by a claim:
// every queue column plus attempts and processed_by as they stand after
// the claiming update.
type Message struct {
	ID                 int64   `db:"ID"`
	DestinationAddress string  `db:"DestinationAddress"`
	SourceAddress      *string `db:"SourceAddress"`
	CCAddress          *string `db:"CC_Address"`
	BCCAddress         *string `db:"BCC_Address"`
	Subject            string  `db:"Subject"`
	Body               string  `db:"Body"`
	Attachment         []byte  `db:"Attachment"`
	Attempts           int     `db:"attempts"`
	ProcessedBy        *string `db:"processed_by"`
}

// IsReport reports whether the row carries an attachment. Rows with
// attachments are reports; rows without are notifications.
func (m *Message) IsReport() bool {
	return len(m.Attachment) > 0
}

// Candidate is the lightweight first-phase read of a claimable row. The
// remembered owner is the compare value for the claiming CAS update.
type Candidate struct {
	ID          int64   `db:"ID"`
	ProcessedBy *string `db:"processed_by"`
}

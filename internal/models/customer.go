package models

// Segment selects the persona used when talking to a customer.
type Segment string

const (
	SegmentConsumer Segment = "consumer"
	SegmentBusiness Segment = "business"
)

type Customer struct {
	ID              string  `json:"id"`
	Name            string  `json:"name"`
	PhoneNumber     string  `json:"phone_number"`
	BusinessID      string  `json:"business_id,omitempty"`
	DropoffLocation string  `json:"dropoff_location,omitempty"`
	RepeatCustomer  bool    `json:"repeat_customer"`
	Segment         Segment `json:"segment"`
}

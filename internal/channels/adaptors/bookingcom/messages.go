package bookingcom

import "encoding/xml"

const otaNamespace = "http://www.opentravel.org/OTA/2003/05"

type pingRQ struct {
	XMLName  xml.Name `xml:"OTA_PingRQ"`
	Xmlns    string   `xml:"xmlns,attr"`
	Version  string   `xml:"Version,attr"`
	EchoData string   `xml:"EchoData"`
}

type pingRS struct {
	XMLName  xml.Name   `xml:"OTA_PingRS"`
	Success  *struct{}  `xml:"Success"`
	EchoData string     `xml:"EchoData"`
	Errors   []otaError `xml:"Errors>Error"`
}

type otaError struct {
	Type      string `xml:"Type,attr"`
	Code      string `xml:"Code,attr"`
	RPH       string `xml:"RPH,attr"`
	ShortText string `xml:"ShortText,attr"`
	Text      string `xml:",chardata"`
}

func (e otaError) message() string {
	if e.ShortText != "" {
		return e.ShortText
	}
	return e.Text
}

type statusControl struct {
	Start        string `xml:"Start,attr"`
	End          string `xml:"End,attr"`
	InvTypeCode  string `xml:"InvTypeCode,attr"`
	RatePlanCode string `xml:"RatePlanCode,attr,omitempty"`
}

type lengthOfStay struct {
	MinMaxMessageType string `xml:"MinMaxMessageType,attr"`
	Time              int    `xml:"Time,attr"`
}

type restrictionStatus struct {
	Restriction string `xml:"Restriction,attr,omitempty"`
	Status      string `xml:"Status,attr"`
}

type availStatusMessage struct {
	BookingLimit      *int                `xml:"BookingLimit,attr,omitempty"`
	StatusControl     statusControl       `xml:"StatusApplicationControl"`
	LengthsOfStay     []lengthOfStay      `xml:"LengthsOfStay>LengthOfStay,omitempty"`
	RestrictionStatus []restrictionStatus `xml:"RestrictionStatus,omitempty"`
}

type availStatusMessages struct {
	HotelCode string               `xml:"HotelCode,attr"`
	Messages  []availStatusMessage `xml:"AvailStatusMessage"`
}

type availNotifRQ struct {
	XMLName xml.Name            `xml:"OTA_HotelAvailNotifRQ"`
	Xmlns   string              `xml:"xmlns,attr"`
	Version string              `xml:"Version,attr"`
	Body    availStatusMessages `xml:"AvailStatusMessages"`
}

type baseByGuestAmt struct {
	AmountAfterTax string `xml:"AmountAfterTax,attr"`
	CurrencyCode   string `xml:"CurrencyCode,attr"`
}

type rate struct {
	BaseByGuestAmts []baseByGuestAmt `xml:"BaseByGuestAmts>BaseByGuestAmt"`
}

type rateAmountMessage struct {
	StatusControl statusControl `xml:"StatusApplicationControl"`
	Rates         []rate        `xml:"Rates>Rate"`
}

type rateAmountMessages struct {
	HotelCode string              `xml:"HotelCode,attr"`
	Messages  []rateAmountMessage `xml:"RateAmountMessage"`
}

type rateAmountNotifRQ struct {
	XMLName xml.Name           `xml:"OTA_HotelRateAmountNotifRQ"`
	Xmlns   string             `xml:"xmlns,attr"`
	Version string             `xml:"Version,attr"`
	Body    rateAmountMessages `xml:"RateAmountMessages"`
}

// notifRS covers both OTA_HotelAvailNotifRS and OTA_HotelRateAmountNotifRS.
type notifRS struct {
	XMLName  xml.Name
	Success  *struct{}  `xml:"Success"`
	Warnings []otaError `xml:"Warnings>Warning"`
	Errors   []otaError `xml:"Errors>Error"`
}

type readRQ struct {
	XMLName  xml.Name `xml:"OTA_ReadRQ"`
	Xmlns    string   `xml:"xmlns,attr"`
	Version  string   `xml:"Version,attr"`
	Criteria struct {
		HotelCode string `xml:"HotelCode,attr"`
		Selection struct {
			Start string `xml:"Start,attr"`
		} `xml:"SelectionCriteria"`
	} `xml:"ReadRequests>HotelReadRequest"`
}

type resNotif struct {
	XMLName      xml.Name           `xml:"OTA_HotelResNotifRQ"`
	Reservations []hotelReservation `xml:"HotelReservations>HotelReservation"`
	Errors       []otaError         `xml:"Errors>Error"`
}

type hotelReservation struct {
	ResStatus  string `xml:"ResStatus,attr"`
	CreateDate string `xml:"CreateDateTime,attr"`
	UniqueID   struct {
		ID string `xml:"ID,attr"`
	} `xml:"UniqueID"`
	RoomStays []roomStay `xml:"RoomStays>RoomStay"`
	Guests    []resGuest `xml:"ResGuests>ResGuest"`
	Total     struct {
		AmountAfterTax string `xml:"AmountAfterTax,attr"`
		CurrencyCode   string `xml:"CurrencyCode,attr"`
	} `xml:"ResGlobalInfo>Total"`
	Guarantee struct {
		Paid string `xml:"PaymentStatus,attr"`
	} `xml:"ResGlobalInfo>Guarantee"`
}

type roomStay struct {
	RoomType struct {
		Code          string `xml:"RoomTypeCode,attr"`
		NumberOfUnits int    `xml:"NumberOfUnits,attr"`
	} `xml:"RoomTypes>RoomType"`
	GuestCounts []struct {
		AgeQualifyingCode string `xml:"AgeQualifyingCode,attr"`
		Count             int    `xml:"Count,attr"`
	} `xml:"GuestCounts>GuestCount"`
	TimeSpan struct {
		Start string `xml:"Start,attr"`
		End   string `xml:"End,attr"`
	} `xml:"TimeSpan"`
}

type resGuest struct {
	GivenName string `xml:"Profiles>ProfileInfo>Profile>Customer>PersonName>GivenName"`
	Surname   string `xml:"Profiles>ProfileInfo>Profile>Customer>PersonName>Surname"`
	Email     string `xml:"Profiles>ProfileInfo>Profile>Customer>Email"`
}

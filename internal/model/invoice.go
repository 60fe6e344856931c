package model

// InvoiceInfo содержит платёжные данные пользователя из сервиса учётных записей.
type InvoiceInfo struct {
	Business  *bool   `json:"business"`
	FirstName *string `json:"first_name"`
	LastName  *string `json:"last_name"`
	Street    *string `json:"street"`
	ZipCode   *string `json:"zip_code"`
	City      *string `json:"city"`
	Country   *string `json:"country"`
	VatID     *string `json:"vat_id"`
}

// CanReceiveCoins сообщает, заполнены ли платёжные данные полностью.
func (i InvoiceInfo) CanReceiveCoins() bool {
	if i.Business == nil {
		return false
	}
	for _, field := range []*string{i.FirstName, i.LastName, i.Street, i.ZipCode, i.City, i.Country} {
		if !isSet(field) {
			return false
		}
	}
	return !*i.Business || isSet(i.VatID)
}

// CanBuyCoins сообщает, достаточно ли платёжных данных для покупки монет.
// Частному лицу достаточно указать страну.
func (i InvoiceInfo) CanBuyCoins() bool {
	if i.Business != nil && !*i.Business && isSet(i.Country) {
		return true
	}
	return i.CanReceiveCoins()
}

// Eligibility вычисляет права пользователя по его платёжным данным.
func (i InvoiceInfo) Eligibility() Eligibility {
	return Eligibility{
		CanBuyCoins:     i.CanBuyCoins(),
		CanReceiveCoins: i.CanReceiveCoins(),
	}
}

func isSet(s *string) bool {
	return s != nil && *s != ""
}

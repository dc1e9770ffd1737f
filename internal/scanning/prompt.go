package scanning

import "strings"

// Categories is the example taxonomy offered to the model. It is not a closed set:
// the model may answer with something else and the answer is kept as-is.
var Categories = []string{
	"Groceries",
	"Restaurants / Dining",
	"Coffee Shops",
	"Fuel / Gas",
	"Transportation",
	"Ride Hailing",
	"Utilities",
	"Internet / Mobile",
	"Bills & Payments",
	"Shopping",
	"Clothing",
	"Electronics",
	"Hardware / Home Improvement",
	"Travel",
	"Lodging",
	"Healthcare",
	"Pharmacy",
	"Entertainment",
	"Subscriptions",
	"Business Supplies",
	"Office Supplies",
	"Other",
}

// userInstruction accompanies the image in the user turn
const userInstruction = "Here is a receipt image. Extract the data."

const promptSchema = `{
  "store_name": string | null,
  "store_address": string | null,
  "store_tax_id": string | null,

  "date": string | null,                     // ISO 8601 preferred
  "payment_method": string | null,           // e.g. Cash, Visa, Mastercard, GCash

  "subtotal_amount": number | null,          // before tax and fees
  "tax_amount": number | null,
  "total_amount": number | null,
  "currency": "PHP" | "USD" | "EUR" | "JPY" | "GBP",

  "category": string | null,                 // inferred expense category

  "items": [
    {
      "description": string,
      "quantity": number | null,
      "unit_price": number | null,
      "line_total": number | null
    }
  ],

  "confidence_score": number                 // 0.0 to 1.0
}`

const promptRules = `EXTRACTION RULES

1. Store details
- Use the store name exactly as printed (e.g. "7-ELEVEN").
- Give the address as one string.
- Give the tax registration number if printed (TIN, VAT No., GST, Reg No.).

2. Date
- If both a transaction date and a print date appear, use the transaction date.
- Write the date as ISO 8601 (YYYY-MM-DD) when it is unambiguous.
- If the date is ambiguous, return the text exactly as printed.

3. Payment method
- Match keywords regardless of case: Cash, CREDIT, DEBIT, VISA, Mastercard, AMEX, GCash, PayMaya, EFTPOS.

4. Amounts
- subtotal_amount is the amount before tax and fees.
- tax_amount is VAT, GST or sales tax.
- total_amount is the final amount payable.
- If an amount is ambiguous, use null.

5. Currency
- Infer the currency from the symbol or an explicit code.

6. Line items
- Only include lines that are purchases: description, quantity, unit_price, line_total.
- Leave out loyalty points, promotions, slogans and other non-purchase text.

7. Confidence score
- Rate completeness, legibility and how certain you are of the category, totals and items.
- 0.9 to 1.0 means high accuracy, 0.7 to 0.89 mostly correct, 0.4 to 0.69 partial, below 0.4 low confidence.

OUTPUT RULES
- Output valid JSON and nothing else: no explanations, no markdown code blocks.
- Use null when you are unsure.
- Never invent a value that is not on the receipt.`

// receiptPrompt is the fixed system instruction shared by all providers
var receiptPrompt = buildReceiptPrompt()

func buildReceiptPrompt() string {
	var b strings.Builder
	b.WriteString("You extract structured data from photographs of retail receipts for bookkeeping and expense tracking.\n\n")
	b.WriteString("Respond with exactly one JSON object matching this schema. Use null for anything missing, unreadable or ambiguous.\n\n")
	b.WriteString(promptSchema)
	b.WriteString("\n\nCATEGORY\n\n")
	b.WriteString("Pick the best matching expense category using the store name and type (Shell is Fuel / Gas, Starbucks is Coffee Shops), ")
	b.WriteString("the purchased items (Tylenol is Healthcare) and phrases such as \"Tuition\" or \"Electricity Bill\". Examples:\n")
	for _, c := range Categories {
		b.WriteString("- \"")
		b.WriteString(c)
		b.WriteString("\"\n")
	}
	b.WriteString("If nothing clearly matches, use \"Other\".\n\n")
	b.WriteString(promptRules)
	return b.String()
}

package extract

// buildExtractionPrompt instructs the model to classify the document and
// return a single strict-JSON object. The document_kind discriminator decides
// whether the rest of the object is a statement or evidence payload.
func buildExtractionPrompt(reportingCurrency string) string {
	basePrompt :=
		"You are a financial document parser for scanned invoices, receipts and bank statements.\n\n" +
			"Task:\n" +
			"- Identify whether the attached document is a bank statement or a supporting document (invoice/receipt).\n" +
			"- Extract ALL financial data from it.\n" +
			"- Output STRICT JSON only (no comments, no trailing commas, no extra text).\n" +
			"- Output a single JSON object.\n\n" +
			"The object must have a \"document_kind\" field: \"bank_statement\" for statements, \"invoice\" or \"receipt\" otherwise.\n\n"

	documentPrompt :=
		"For invoices and receipts, include these fields:\n" +
			"- \"issuer\": string (the business that issued the document)\n" +
			"- \"document_date\": string, ISO format \"YYYY-MM-DD\"\n" +
			"- \"total_amount\": number (the grand total, always positive)\n" +
			"- \"currency\": string (e.g. \"EUR\")\n" +
			"- \"exchange_rate\": number (rate into " + reportingCurrency + "; 1 if same currency)\n" +
			"- \"category\": string (expense category, or \"\" if unclear)\n" +
			"- \"reference_code\": string (invoice number or handwritten reference as printed, or \"\")\n\n"

	statementPrompt :=
		"For bank statements, include these fields:\n" +
			"- \"currency\": string\n" +
			"- \"period_start\", \"period_end\": string, ISO format \"YYYY-MM-DD\"\n" +
			"- \"opening_balance\": number or null\n" +
			"- \"transactions\": array of objects, one per statement row, in row order, each with:\n" +
			"  - \"date\": string, ISO format \"YYYY-MM-DD\"\n" +
			"  - \"description\": string\n" +
			"  - \"amount\": number (always the positive magnitude)\n" +
			"  - \"direction\": \"income\" for money in, \"expense\" for money out\n" +
			"  - \"category\": string or \"\"\n" +
			"  - \"reference_code\": string as printed on the line, or \"\"\n\n"

	rulesPrompt :=
		"Rules:\n" +
			"- If the statement has separate \"paid out\" / \"paid in\" columns, map them to \"direction\", never to a signed amount.\n" +
			"- Report amounts in the document's own currency; " + reportingCurrency + " is the reporting currency for exchange rates only.\n" +
			"- If a value cannot be read, use \"\" for strings and null for numbers.\n\n" +
			"Return ONLY valid raw JSON.\n" +
			"Do NOT wrap the response in code fences.\n" +
			"Do NOT use ```json or any Markdown.\n" +
			"Output must begin with \"{\" and end with \"}\".\n"

	return basePrompt + documentPrompt + statementPrompt + rulesPrompt
}

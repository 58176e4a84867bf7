package sqlinline

// QConfirmTopup delegates ledger semantics to the stored procedure.
const QConfirmTopup = `--sql bd4acb71-0c68-4034-b812-2df70d0a19a3
select fn_confirm_topup($1::text, $2::bigint, $3::jsonb);
`

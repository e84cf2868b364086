package sqlinline

const QInsertDonationIfAbsent = `--sql 9b79c57c-3615-48a2-9d85-3426d5b3f7eb
insert into donations (id, project_id, donor_id, amount, currency, rail, external_ref, status, reason, metadata, created_at)
values ($1::uuid, $2::uuid, $3::text, $4::numeric, $5::text, $6::text, $7::text, $8::text, '', coalesce($9::jsonb, '{}'::jsonb), $10::timestamptz)
on conflict (rail, external_ref) do nothing
returning id::text;
`

// Donation select lists below must match the column order of repo.scanDonation.
const QSelectDonationByKey = `--sql 7a08e4f6-cb8a-42c4-bd7f-291d6e913edc
select id::text, project_id::text, donor_id, amount::text, currency, rail, external_ref, status, reason, metadata, created_at, finalized_at
from donations
where rail = $1::text and external_ref = $2::text
limit 1;
`

// QTransitionDonation moves one record between statuses and applies the
// aggregate delta ($5: 1 credit, -1 debit, 0 none) in the same statement.
// The conditional update on the expected status serializes racing callers.
const QTransitionDonation = `--sql ea2a92e2-6347-4efa-be75-ef40679459aa
with moved as (
    update donations
    set status = $4::text, reason = $6::text, finalized_at = $7::timestamptz
    where rail = $1::text and external_ref = $2::text and status = $3::text
    returning id, project_id, donor_id, amount, currency, rail, external_ref, status, reason, metadata, created_at, finalized_at
),
credited as (
    insert into project_totals (project_id, currency, raised_amount, updated_at)
    select project_id, currency, amount, now() from moved where $5::int = 1
    on conflict (project_id, currency) do update
    set raised_amount = project_totals.raised_amount + excluded.raised_amount, updated_at = now()
    returning project_id
),
debited as (
    update project_totals t
    set raised_amount = t.raised_amount - m.amount, updated_at = now()
    from moved m
    where $5::int = -1 and t.project_id = m.project_id and t.currency = m.currency
    returning t.project_id
)
select id::text, project_id::text, donor_id, amount::text, currency, rail, external_ref, status, reason, metadata, created_at, finalized_at
from moved;
`

const QListPendingDonations = `--sql 431d4be6-ae56-4381-b2ed-26268c119702
select id::text, project_id::text, donor_id, amount::text, currency, rail, external_ref, status, reason, metadata, created_at, finalized_at
from donations
where status = 'PENDING' and created_at <= $1::timestamptz
order by created_at asc
limit $2::int;
`

const QListDonationsByDonor = `--sql 3e4acb76-a53a-4b18-b293-60b4f9b69ee5
select id::text, project_id::text, donor_id, amount::text, currency, rail, external_ref, status, reason, metadata, created_at, finalized_at
from donations
where donor_id = $1::text
order by created_at desc
limit $2::int;
`
